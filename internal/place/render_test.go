package place

import (
	"strings"
	"testing"

	"github.com/pdiddy/compose-engine/pkg/types"
)

func TestRenderMarkdown(t *testing.T) {
	doc := &types.PlacedDocument{
		Title: "Survey of Efficient Attention",
		TOC: []types.TOCEntry{
			{Level: 2, Title: "Introduction", SectionID: "intro"},
			{Level: 2, Title: "Methods", SectionID: "methods"},
		},
		Paragraphs: []types.Paragraph{
			{SectionID: "intro", Index: 0, Text: "## Introduction"},
			{SectionID: "intro", Index: 1, Text: "Attention mechanisms, as shown in Figure 1, dominate."},
			{SectionID: "methods", Index: 0, Text: "## Methods"},
		},
		Elements: []types.PlacedElement{
			{
				Element:        types.Element{ID: "fig-arch", Type: types.ElementFigure, Body: "![arch](arch.png)", Caption: "Model architecture"},
				Number:         1,
				Label:          "Figure 1",
				AfterParagraph: 1,
			},
			{
				Element:        types.Element{ID: "lst-setup", Type: types.ElementCode, Body: "pip install torch"},
				Number:         1,
				Label:          "Listing 1",
				AfterParagraph: -1,
				Appendix:       true,
			},
		},
	}

	got := RenderMarkdown(doc)

	wantOrder := []string{
		"# Survey of Efficient Attention",
		"## Contents",
		"- Introduction",
		"- Methods",
		"## Introduction",
		"as shown in Figure 1",
		"![arch](arch.png)",
		"*Figure 1: Model architecture*",
		"## Methods",
		"## Appendix",
		"```\npip install torch\n```",
		"*Listing 1*",
	}
	pos := 0
	for _, want := range wantOrder {
		idx := strings.Index(got[pos:], want)
		if idx < 0 {
			t.Fatalf("missing or out of order: %q\nrendered:\n%s", want, got)
		}
		pos += idx + len(want)
	}
}

func TestRenderMarkdownInlineElement(t *testing.T) {
	doc := &types.PlacedDocument{
		Title: "Doc",
		Paragraphs: []types.Paragraph{
			{SectionID: "methods", Index: 0, Text: "The identity Equation 1 generalizes softmax attention."},
		},
		Elements: []types.PlacedElement{
			{
				Element:        types.Element{ID: "eq-kernel", Type: types.ElementEquation, Body: "phi(q)^T phi(k)"},
				Number:         1,
				Label:          "Equation 1",
				AfterParagraph: 0,
				Inline:         true,
			},
		},
	}

	got := RenderMarkdown(doc)
	if !strings.Contains(got, "The identity phi(q)^T phi(k) (Equation 1) generalizes softmax attention.") {
		t.Errorf("inline element not spliced into its paragraph:\n%s", got)
	}
	if strings.Contains(got, "*Equation 1*") {
		t.Errorf("inline element rendered as a separate block:\n%s", got)
	}
}

func TestRenderMarkdownNoTOCNoAppendix(t *testing.T) {
	doc := &types.PlacedDocument{
		Title:      "Doc",
		Paragraphs: []types.Paragraph{{SectionID: "s", Index: 0, Text: "Only paragraph."}},
	}
	got := RenderMarkdown(doc)
	if strings.Contains(got, "Contents") || strings.Contains(got, "Appendix") {
		t.Errorf("empty structures rendered:\n%s", got)
	}
}
