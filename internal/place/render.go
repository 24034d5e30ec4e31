// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package place

import (
	"fmt"
	"strings"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// RenderMarkdown serializes a placed document to Markdown: title, table of
// contents, paragraphs with elements interleaved at their assigned
// positions, and an appendix for elements routed there.
func RenderMarkdown(doc *types.PlacedDocument) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", doc.Title)

	if len(doc.TOC) > 0 {
		b.WriteString("\n## Contents\n\n")
		for _, e := range doc.TOC {
			indent := strings.Repeat("  ", e.Level-1)
			fmt.Fprintf(&b, "%s- %s\n", indent, e.Title)
		}
	}

	// byPosition groups body elements by the paragraph they follow,
	// preserving placement order.
	byPosition := make(map[int][]types.PlacedElement)
	var appendix []types.PlacedElement
	for _, el := range doc.Elements {
		if el.Appendix {
			appendix = append(appendix, el)
			continue
		}
		byPosition[el.AfterParagraph] = append(byPosition[el.AfterParagraph], el)
	}

	for i, p := range doc.Paragraphs {
		text := p.Text
		// Inline elements join the paragraph's flow at their caption label,
		// the rewritten placeholder position. An inline element whose label
		// is absent from the paragraph falls back to block rendering.
		var blocks []types.PlacedElement
		for _, el := range byPosition[i] {
			if el.Inline && strings.Contains(text, el.Label) {
				spliced := fmt.Sprintf("%s (%s)", strings.TrimSpace(el.Element.Body), el.Label)
				text = strings.Replace(text, el.Label, spliced, 1)
				continue
			}
			blocks = append(blocks, el)
		}
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
		for _, el := range blocks {
			b.WriteString("\n")
			b.WriteString(renderElement(el))
		}
	}

	if len(appendix) > 0 {
		b.WriteString("\n## Appendix\n")
		for _, el := range appendix {
			b.WriteString("\n")
			b.WriteString(renderElement(el))
		}
	}

	return b.String()
}

func renderElement(el types.PlacedElement) string {
	var b strings.Builder

	body := strings.TrimRight(el.Element.Body, "\n")
	if el.Element.Type == types.ElementCode {
		fmt.Fprintf(&b, "```\n%s\n```\n", body)
	} else {
		b.WriteString(body)
		b.WriteString("\n")
	}

	if el.Element.Caption != "" {
		fmt.Fprintf(&b, "\n*%s: %s*\n", el.Label, el.Element.Caption)
	} else {
		fmt.Fprintf(&b, "\n*%s*\n", el.Label)
	}
	return b.String()
}
