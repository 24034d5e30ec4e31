// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package place computes element insertion points, assigns caption numbers,
// and rewrites placeholder references in assembled section text.
// Implements: prd005-placement (R1-R7);
//
//	docs/ARCHITECTURE § Placement.
package place

import (
	"regexp"
	"strings"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// placeholderPattern matches element placeholder tokens: {{elem:some-id}}.
var placeholderPattern = regexp.MustCompile(`\{\{elem:([A-Za-z0-9_-]+)\}\}`)

// paragraphSplit matches blank-line paragraph boundaries.
var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// SectionText is one completed section's prose, in document order.
type SectionText struct {
	// ID is the section ID.
	ID string

	// Text is the section's generated prose.
	Text string
}

// splitParagraphs breaks the ordered section texts into the global paragraph
// list. Paragraph order is document order: the fixed order declared by the
// plan, independent of execution order. Per prd005-placement R2.1.
func splitParagraphs(sections []SectionText) []types.Paragraph {
	var out []types.Paragraph
	for _, sec := range sections {
		local := 0
		for _, chunk := range paragraphSplit.Split(sec.Text, -1) {
			text := strings.TrimSpace(chunk)
			if text == "" {
				continue
			}
			out = append(out, types.Paragraph{
				SectionID: sec.ID,
				Index:     local,
				Text:      text,
			})
			local++
		}
	}
	return out
}

// ExtractPlaceholderIDs returns the element IDs referenced by placeholder
// tokens in text, in first-occurrence order, deduplicated.
func ExtractPlaceholderIDs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// referencedIDs maps element ID to the global indexes of every paragraph
// containing its token, in document order. The first entry per element is
// its reference anchor. Per prd005-placement R2.2.
func referencedIDs(paragraphs []types.Paragraph) map[string][]int {
	refs := make(map[string][]int)
	for i, p := range paragraphs {
		for _, id := range ExtractPlaceholderIDs(p.Text) {
			refs[id] = append(refs[id], i)
		}
	}
	return refs
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// lineCount counts non-empty lines in an element body, used by the size
// penalty.
func lineCount(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// sectionBounds returns the first and last global paragraph index for each
// section present in the paragraph list.
func sectionBounds(paragraphs []types.Paragraph) map[string][2]int {
	bounds := make(map[string][2]int)
	for i, p := range paragraphs {
		b, ok := bounds[p.SectionID]
		if !ok {
			bounds[p.SectionID] = [2]int{i, i}
			continue
		}
		b[1] = i
		bounds[p.SectionID] = b
	}
	return bounds
}
