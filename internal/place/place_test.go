// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package place

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// para builds a paragraph of n words so flow-penalty thresholds are exact.
func para(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return strings.Join(words, " ")
}

func defaultEngine() *Engine {
	return NewEngine(types.PlacementConfig{})
}

func TestSplitParagraphs(t *testing.T) {
	sections := []SectionText{
		{ID: "intro", Text: "First paragraph.\n\nSecond paragraph.\n\n\n\nThird."},
		{ID: "methods", Text: "  \n\nOnly one here.\n"},
	}
	got := splitParagraphs(sections)

	want := []types.Paragraph{
		{SectionID: "intro", Index: 0, Text: "First paragraph."},
		{SectionID: "intro", Index: 1, Text: "Second paragraph."},
		{SectionID: "intro", Index: 2, Text: "Third."},
		{SectionID: "methods", Index: 0, Text: "Only one here."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("splitParagraphs mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractPlaceholderIDs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single token",
			text: "As shown in {{elem:flow-chart}}, throughput rises.",
			want: []string{"flow-chart"},
		},
		{
			name: "duplicates collapse in order",
			text: "{{elem:b}} then {{elem:a}} then {{elem:b}} again",
			want: []string{"b", "a"},
		},
		{
			name: "no tokens",
			text: "plain prose with {braces} and {{not:a-token!}}",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPlaceholderIDs(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlaceAfterAnchor(t *testing.T) {
	sections := []SectionText{
		{ID: "results", Text: para(40) + " see {{elem:tbl-perf}}.\n\n" + para(40)},
	}
	elements := []types.Element{
		{ID: "tbl-perf", Type: types.ElementTable, Body: "| a | b |", SectionID: "results"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Elements) != 1 {
		t.Fatalf("got %d placed elements, want 1", len(doc.Elements))
	}
	el := doc.Elements[0]
	if el.AfterParagraph != 0 {
		t.Errorf("AfterParagraph = %d, want 0 (immediately after anchor)", el.AfterParagraph)
	}
	if el.Label != "Table 1" {
		t.Errorf("Label = %q, want \"Table 1\"", el.Label)
	}
	if !strings.Contains(doc.Paragraphs[0].Text, "see Table 1.") {
		t.Errorf("token not rewritten: %q", doc.Paragraphs[0].Text)
	}
}

func TestFlowPenaltyDefersShortAnchor(t *testing.T) {
	// Anchor paragraph is 5 words, below the 30-word flow threshold, so the
	// element waits for the next paragraph boundary in that section.
	sections := []SectionText{
		{ID: "s", Text: "Short anchor {{elem:fig-a}} here.\n\n" + para(40) + "\n\n" + para(40)},
	}
	elements := []types.Element{
		{ID: "fig-a", Type: types.ElementFigure, Body: "img.png", SectionID: "s"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Elements[0].AfterParagraph; got != 1 {
		t.Errorf("AfterParagraph = %d, want 1 (deferred past short anchor)", got)
	}
}

func TestFlowPenaltyStaysAtSectionEnd(t *testing.T) {
	// Short anchor is the section's last paragraph; nothing to defer to.
	sections := []SectionText{
		{ID: "s", Text: para(40) + "\n\nShort tail {{elem:fig-b}}."},
		{ID: "next", Text: para(40)},
	}
	elements := []types.Element{
		{ID: "fig-b", Type: types.ElementFigure, Body: "img.png", SectionID: "s"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Elements[0].AfterParagraph; got != 1 {
		t.Errorf("AfterParagraph = %d, want 1 (stay inside owning section)", got)
	}
}

func TestSizePenaltyPushesToSectionBoundary(t *testing.T) {
	big := strings.Repeat("| row |\n", 30)
	sections := []SectionText{
		{ID: "s", Text: para(40) + " {{elem:tbl-big}}\n\n" + para(40) + "\n\n" + para(40)},
	}
	elements := []types.Element{
		{ID: "tbl-big", Type: types.ElementTable, Body: big, SectionID: "s"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Elements[0].AfterParagraph; got != 2 {
		t.Errorf("AfterParagraph = %d, want 2 (section boundary)", got)
	}
}

func TestHintOverrides(t *testing.T) {
	sections := []SectionText{
		{ID: "s", Text: "Anchor {{elem:x}} paragraph.\n\n" + para(40) + "\n\n" + para(40)},
	}

	tests := []struct {
		name         string
		hint         types.PlacementHint
		wantAfter    int
		wantInline   bool
		wantAppendix bool
	}{
		{name: "near_reference", hint: types.HintNearReference, wantAfter: 0},
		{name: "end_of_section", hint: types.HintEndOfSection, wantAfter: 2},
		{name: "appendix", hint: types.HintAppendix, wantAfter: -1, wantAppendix: true},
		{name: "inline", hint: types.HintInline, wantAfter: 0, wantInline: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elements := []types.Element{
				{ID: "x", Type: types.ElementFigure, Body: "img", SectionID: "s", Hint: tt.hint},
			}
			doc, err := defaultEngine().Place("Doc", sections, elements)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			el := doc.Elements[0]
			if el.AfterParagraph != tt.wantAfter {
				t.Errorf("AfterParagraph = %d, want %d", el.AfterParagraph, tt.wantAfter)
			}
			if el.Inline != tt.wantInline {
				t.Errorf("Inline = %v, want %v", el.Inline, tt.wantInline)
			}
			if el.Appendix != tt.wantAppendix {
				t.Errorf("Appendix = %v, want %v", el.Appendix, tt.wantAppendix)
			}
		})
	}
}

func TestAnchorlessPlacement(t *testing.T) {
	sections := []SectionText{
		{ID: "s", Text: para(40) + "\n\n" + para(40)},
	}

	tests := []struct {
		name      string
		elem      types.Element
		wantKind  PlacementErrorKind
		wantAfter int
	}{
		{
			name:      "body defaults to end of section",
			elem:      types.Element{ID: "a", Type: types.ElementTable, Body: "| x |", SectionID: "s"},
			wantAfter: 1,
		},
		{
			name:      "appendix hint works without owner text",
			elem:      types.Element{ID: "b", Type: types.ElementFigure, Body: "img", SectionID: "gone", Hint: types.HintAppendix},
			wantAfter: -1,
		},
		{
			name:     "no anchor no hint no body",
			elem:     types.Element{ID: "c", Type: types.ElementFigure, SectionID: "s"},
			wantKind: DanglingElement,
		},
		{
			name:     "near_reference without anchor",
			elem:     types.Element{ID: "d", Type: types.ElementFigure, Body: "img", SectionID: "s", Hint: types.HintNearReference},
			wantKind: DanglingElement,
		},
		{
			name:     "owner section absent",
			elem:     types.Element{ID: "e", Type: types.ElementFigure, Body: "img", SectionID: "gone"},
			wantKind: OrphanedElement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := defaultEngine().Place("Doc", sections, []types.Element{tt.elem})
			if tt.wantKind != "" {
				var pe *PlacementError
				if !errors.As(err, &pe) {
					t.Fatalf("expected *PlacementError, got %v", err)
				}
				if pe.Kind != tt.wantKind {
					t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
				}
				if pe.ElementID != tt.elem.ID {
					t.Errorf("ElementID = %q, want %q", pe.ElementID, tt.elem.ID)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := doc.Elements[0].AfterParagraph; got != tt.wantAfter {
				t.Errorf("AfterParagraph = %d, want %d", got, tt.wantAfter)
			}
		})
	}
}

func TestUnresolvedReference(t *testing.T) {
	sections := []SectionText{
		{ID: "s", Text: "References {{elem:ghost}} here."},
	}
	_, err := defaultEngine().Place("Doc", sections, nil)
	var pe *PlacementError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PlacementError, got %v", err)
	}
	if pe.Kind != UnresolvedReference {
		t.Errorf("Kind = %q, want %q", pe.Kind, UnresolvedReference)
	}
	if pe.SectionID != "s" || !strings.Contains(pe.Token, "ghost") {
		t.Errorf("error detail = %+v, want section and token identified", pe)
	}
}

func TestDuplicateElementIDRejected(t *testing.T) {
	sections := []SectionText{
		{ID: "a", Text: para(40) + " {{elem:tbl-shared}}"},
		{ID: "b", Text: para(40)},
	}
	elements := []types.Element{
		{ID: "tbl-shared", Type: types.ElementTable, Body: "|a|", SectionID: "a"},
		{ID: "tbl-shared", Type: types.ElementTable, Body: "|b|", SectionID: "b"},
	}
	_, err := defaultEngine().Place("Doc", sections, elements)
	var pe *PlacementError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PlacementError, got %v", err)
	}
	if pe.Kind != DuplicateElement {
		t.Errorf("Kind = %q, want %q", pe.Kind, DuplicateElement)
	}
	if pe.ElementID != "tbl-shared" {
		t.Errorf("ElementID = %q, want tbl-shared", pe.ElementID)
	}
}

func TestCaptionNumbersPerTypeInDocumentOrder(t *testing.T) {
	sections := []SectionText{
		{ID: "a", Text: para(40) + " {{elem:fig-2}}\n\n" + para(40) + " {{elem:tbl-1}}"},
		{ID: "b", Text: para(40) + " {{elem:fig-1}}\n\n" + para(40) + " {{elem:tbl-2}}"},
	}
	// Element slice arrives in generation-completion order, which must not
	// influence the assigned numbers.
	elements := []types.Element{
		{ID: "tbl-2", Type: types.ElementTable, Body: "|2|", SectionID: "b"},
		{ID: "fig-1", Type: types.ElementFigure, Body: "f1", SectionID: "b"},
		{ID: "tbl-1", Type: types.ElementTable, Body: "|1|", SectionID: "a"},
		{ID: "fig-2", Type: types.ElementFigure, Body: "f2", SectionID: "a"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantLabels := map[string]string{
		"fig-2": "Figure 1", // first figure in document order
		"tbl-1": "Table 1",
		"fig-1": "Figure 2",
		"tbl-2": "Table 2",
	}
	for _, el := range doc.Elements {
		if want := wantLabels[el.Element.ID]; el.Label != want {
			t.Errorf("element %s label = %q, want %q", el.Element.ID, el.Label, want)
		}
	}
}

func TestSharedAnchorTieBreak(t *testing.T) {
	// Two elements reference the same paragraph; numbers follow
	// anchor-then-ID order and both land at or after that paragraph.
	sections := []SectionText{
		{ID: "s", Text: para(40) + "\n\n" + para(40) + "\n\n" + para(40) + "\n\n" +
			para(35) + " {{elem:zeta}} and {{elem:alpha}}.\n\n" + para(40)},
	}
	elements := []types.Element{
		{ID: "zeta", Type: types.ElementFigure, Body: "z", SectionID: "s"},
		{ID: "alpha", Type: types.ElementFigure, Body: "a", SectionID: "s"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Elements[0].Element.ID != "alpha" || doc.Elements[1].Element.ID != "zeta" {
		t.Errorf("tie-break order = [%s %s], want [alpha zeta]",
			doc.Elements[0].Element.ID, doc.Elements[1].Element.ID)
	}
	for _, el := range doc.Elements {
		if el.AfterParagraph < 3 {
			t.Errorf("element %s placed at %d, before its anchor paragraph 3",
				el.Element.ID, el.AfterParagraph)
		}
	}
	if doc.Elements[0].Label != "Figure 1" || doc.Elements[1].Label != "Figure 2" {
		t.Errorf("labels = [%s %s], want [Figure 1 Figure 2]",
			doc.Elements[0].Label, doc.Elements[1].Label)
	}
}

func TestPlaceDeterministic(t *testing.T) {
	sections := []SectionText{
		{ID: "intro", Text: "# Introduction\n\n" + para(40) + " {{elem:fig-arch}}.\n\n" + para(40)},
		{ID: "methods", Text: "# Methods\n\n" + para(35) + " {{elem:tbl-params}} and {{elem:eq-loss}}."},
		{ID: "results", Text: "# Results\n\n" + para(40) + " {{elem:tbl-bench}}."},
	}
	elements := []types.Element{
		{ID: "fig-arch", Type: types.ElementFigure, Body: "arch.png", SectionID: "intro"},
		{ID: "tbl-params", Type: types.ElementTable, Body: "| p |", SectionID: "methods"},
		{ID: "eq-loss", Type: types.ElementEquation, Body: "L = x", SectionID: "methods"},
		{ID: "tbl-bench", Type: types.ElementTable, Body: "| b |", SectionID: "results"},
		{ID: "lst-setup", Type: types.ElementCode, Body: "setup()", SectionID: "results", Hint: types.HintAppendix},
	}

	base, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Shuffle element order to simulate nondeterministic completion order.
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]types.Element{}, elements...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := defaultEngine().Place("Doc", sections, shuffled)
		if err != nil {
			t.Fatalf("trial %d: unexpected error: %v", trial, err)
		}
		if diff := cmp.Diff(base, got); diff != "" {
			t.Fatalf("trial %d: output differs under shuffled input (-base +got):\n%s", trial, diff)
		}
	}
}

func TestEveryElementPlacedExactlyOnce(t *testing.T) {
	sections := []SectionText{
		{ID: "a", Text: para(40) + " {{elem:one}} and {{elem:two}} and {{elem:one}} again."},
	}
	elements := []types.Element{
		{ID: "one", Type: types.ElementFigure, Body: "1", SectionID: "a"},
		{ID: "two", Type: types.ElementTable, Body: "2", SectionID: "a"},
	}

	doc, err := defaultEngine().Place("Doc", sections, elements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]int)
	for _, el := range doc.Elements {
		seen[el.Element.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("element %s placed %d times", id, n)
		}
	}
	if len(seen) != 2 {
		t.Errorf("placed %d elements, want 2", len(seen))
	}
	// Every occurrence of a resolved token is rewritten, including repeats.
	if strings.Contains(doc.Paragraphs[0].Text, "{{elem:") {
		t.Errorf("unrewritten token remains: %q", doc.Paragraphs[0].Text)
	}
}

func TestCrossSectionPolicy(t *testing.T) {
	sections := []SectionText{
		{ID: "owner", Text: para(40)},
		{ID: "other", Text: para(40) + " {{elem:shared-fig}}."},
	}
	elements := []types.Element{
		{ID: "shared-fig", Type: types.ElementFigure, Body: "img", SectionID: "owner"},
	}

	t.Run("report policy records the reference", func(t *testing.T) {
		doc, err := NewEngine(types.PlacementConfig{CrossSectionPolicy: CrossSectionReport}).
			Place("Doc", sections, elements)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(doc.CrossSectionRefs) != 1 {
			t.Fatalf("CrossSectionRefs = %v, want one entry", doc.CrossSectionRefs)
		}
		ref := doc.CrossSectionRefs[0]
		if ref.ElementID != "shared-fig" || ref.OwnerSectionID != "owner" || ref.AnchorSectionID != "other" {
			t.Errorf("unexpected ref: %+v", ref)
		}
	})

	t.Run("reject policy fails placement", func(t *testing.T) {
		_, err := NewEngine(types.PlacementConfig{CrossSectionPolicy: CrossSectionReject}).
			Place("Doc", sections, elements)
		var pe *PlacementError
		if !errors.As(err, &pe) {
			t.Fatalf("expected *PlacementError, got %v", err)
		}
		if pe.Kind != CrossSectionReference {
			t.Errorf("Kind = %q, want %q", pe.Kind, CrossSectionReference)
		}
	})
}

func TestScanTOC(t *testing.T) {
	sections := []SectionText{
		{ID: "intro", Text: "# Introduction\n\nBody text here."},
		{ID: "methods", Text: "## Methods\n\nMore text.\n\n### Data Collection\nInline continuation."},
	}
	doc, err := defaultEngine().Place("Doc", sections, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []types.TOCEntry{
		{Level: 1, Title: "Introduction", SectionID: "intro"},
		{Level: 2, Title: "Methods", SectionID: "methods"},
		{Level: 3, Title: "Data Collection", SectionID: "methods"},
	}
	if diff := cmp.Diff(want, doc.TOC); diff != "" {
		t.Errorf("TOC mismatch (-want +got):\n%s", diff)
	}
}
