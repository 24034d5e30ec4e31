// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package place

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// Cross-section reference policies. Per prd005-placement R7.2.
const (
	CrossSectionReport = "report"
	CrossSectionReject = "reject"
)

// PlacementErrorKind classifies assembly-phase validation failures.
// Per prd005-placement R5.2.
type PlacementErrorKind string

const (
	// DanglingElement is an element with no anchor, no hint, and no body.
	DanglingElement PlacementErrorKind = "dangling_element"

	// UnresolvedReference is a placeholder token with no matching element.
	UnresolvedReference PlacementErrorKind = "unresolved_reference"

	// OrphanedElement is an element that could not be placed anywhere.
	OrphanedElement PlacementErrorKind = "orphaned_element"

	// CrossSectionReference is an element anchored outside its owning
	// section under the reject policy.
	CrossSectionReference PlacementErrorKind = "cross_section_reference"

	// DuplicateElement is an element ID produced more than once; the two
	// elements would otherwise collapse into one caption.
	DuplicateElement PlacementErrorKind = "duplicate_element"
)

// PlacementError is fatal to the assembling phase. It carries enough detail
// for a caller to regenerate just the offending section.
type PlacementError struct {
	// Kind classifies the failure.
	Kind PlacementErrorKind

	// ElementID is the offending element, when applicable.
	ElementID string

	// SectionID is the section involved (owner, or token location).
	SectionID string

	// Token is the unresolved placeholder token, for UnresolvedReference.
	Token string
}

func (e *PlacementError) Error() string {
	switch e.Kind {
	case DanglingElement:
		return fmt.Sprintf("element %q (section %q) has no reference, hint, or body", e.ElementID, e.SectionID)
	case UnresolvedReference:
		return fmt.Sprintf("placeholder %s in section %q has no matching element", e.Token, e.SectionID)
	case OrphanedElement:
		return fmt.Sprintf("element %q (section %q) was never placed", e.ElementID, e.SectionID)
	case CrossSectionReference:
		return fmt.Sprintf("element %q (section %q) is referenced from section %q", e.ElementID, e.SectionID, e.Token)
	case DuplicateElement:
		return fmt.Sprintf("element id %q is produced more than once (section %q)", e.ElementID, e.SectionID)
	}
	return fmt.Sprintf("placement error for element %q", e.ElementID)
}

// Engine places elements into assembled text. The zero config yields
// sensible defaults; identical input always yields identical output.
type Engine struct {
	cfg types.PlacementConfig
}

// NewEngine builds an Engine, filling config defaults where zero.
func NewEngine(cfg types.PlacementConfig) *Engine {
	if cfg.MinFlowWords <= 0 {
		cfg.MinFlowWords = 30
	}
	if cfg.LargeElementLines <= 0 {
		cfg.LargeElementLines = 20
	}
	if cfg.CrossSectionPolicy == "" {
		cfg.CrossSectionPolicy = CrossSectionReport
	}
	return &Engine{cfg: cfg}
}

// placement is the resolved position of one element before numbering.
type placement struct {
	elem     types.Element
	after    int  // global paragraph index the element follows; -1 for appendix
	anchor   int  // global index of the anchor paragraph; -1 when none
	inline   bool
	appendix bool
}

// Place assembles the final document: it concatenates the section texts in
// document order, inserts every element exactly once, assigns dense per-type
// caption numbers in final insertion order, rewrites placeholder tokens, and
// builds a table of contents. Determinism holds for identical input
// regardless of the completion order that produced it.
// Per prd005-placement R2-R6.
func (e *Engine) Place(title string, sections []SectionText, elements []types.Element) (*types.PlacedDocument, error) {
	paragraphs := splitParagraphs(sections)
	refs := referencedIDs(paragraphs)
	bounds := sectionBounds(paragraphs)

	elemByID := make(map[string]types.Element, len(elements))
	for _, el := range elements {
		if _, dup := elemByID[el.ID]; dup {
			return nil, &PlacementError{
				Kind:      DuplicateElement,
				ElementID: el.ID,
				SectionID: el.SectionID,
			}
		}
		elemByID[el.ID] = el
	}

	// Every token must resolve to a known element before any positioning.
	for _, p := range paragraphs {
		for _, id := range ExtractPlaceholderIDs(p.Text) {
			if _, ok := elemByID[id]; !ok {
				return nil, &PlacementError{
					Kind:      UnresolvedReference,
					SectionID: p.SectionID,
					Token:     fmt.Sprintf("{{elem:%s}}", id),
				}
			}
		}
	}

	// Stable element iteration order: sort by ID so map order never leaks
	// into error selection or cross-section reporting.
	sorted := append([]types.Element{}, elements...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var placements []placement
	var crossRefs []types.CrossSectionRef

	for _, el := range sorted {
		pl, cross, err := e.position(el, paragraphs, refs[el.ID], bounds)
		if err != nil {
			return nil, err
		}
		if cross != nil {
			crossRefs = append(crossRefs, *cross)
		}
		placements = append(placements, pl)
	}

	// Final insertion order: body placements by (position, anchor, ID);
	// appendix placements after everything, by (anchor, ID).
	sort.SliceStable(placements, func(i, j int) bool {
		a, b := placements[i], placements[j]
		if a.appendix != b.appendix {
			return !a.appendix
		}
		if !a.appendix && a.after != b.after {
			return a.after < b.after
		}
		if a.anchor != b.anchor {
			// Anchorless placements sort after anchored ones at the same spot.
			ai, bi := a.anchor, b.anchor
			if ai < 0 {
				ai = len(paragraphs)
			}
			if bi < 0 {
				bi = len(paragraphs)
			}
			if ai != bi {
				return ai < bi
			}
		}
		return a.elem.ID < b.elem.ID
	})

	// Caption numbers are dense, sequential, and scoped per type, assigned
	// in final document order. Per prd005-placement R4.2.
	counters := make(map[types.ElementType]int)
	labels := make(map[string]string, len(placements))
	placed := make([]types.PlacedElement, 0, len(placements))
	for _, pl := range placements {
		counters[pl.elem.Type]++
		n := counters[pl.elem.Type]
		label := fmt.Sprintf("%s %d", pl.elem.Type.CaptionPrefix(), n)
		labels[pl.elem.ID] = label
		placed = append(placed, types.PlacedElement{
			Element:        pl.elem,
			Number:         n,
			Label:          label,
			AfterParagraph: pl.after,
			Inline:         pl.inline,
			Appendix:       pl.appendix,
		})
	}

	// Rewrite every placeholder occurrence to its caption label.
	rewritten := make([]types.Paragraph, len(paragraphs))
	for i, p := range paragraphs {
		p.Text = placeholderPattern.ReplaceAllStringFunc(p.Text, func(tok string) string {
			id := placeholderPattern.FindStringSubmatch(tok)[1]
			return labels[id]
		})
		rewritten[i] = p
	}

	sort.Slice(crossRefs, func(i, j int) bool { return crossRefs[i].ElementID < crossRefs[j].ElementID })

	return &types.PlacedDocument{
		Title:            title,
		Paragraphs:       rewritten,
		Elements:         placed,
		TOC:              scanTOC(rewritten),
		CrossSectionRefs: crossRefs,
	}, nil
}

// position resolves one element to a placement, applying hint overrides and
// the placement score. Per prd005-placement R3.1-R3.5.
func (e *Engine) position(el types.Element, paragraphs []types.Paragraph, refs []int, bounds map[string][2]int) (placement, *types.CrossSectionRef, error) {
	ownerBounds, ownerPresent := bounds[el.SectionID]

	if len(refs) == 0 {
		return e.positionAnchorless(el, ownerBounds, ownerPresent)
	}

	anchor := refs[0]
	var cross *types.CrossSectionRef
	if paragraphs[anchor].SectionID != el.SectionID {
		if e.cfg.CrossSectionPolicy == CrossSectionReject {
			return placement{}, nil, &PlacementError{
				Kind:      CrossSectionReference,
				ElementID: el.ID,
				SectionID: el.SectionID,
				Token:     paragraphs[anchor].SectionID,
			}
		}
		cross = &types.CrossSectionRef{
			ElementID:       el.ID,
			OwnerSectionID:  el.SectionID,
			AnchorSectionID: paragraphs[anchor].SectionID,
		}
	}

	// An explicit hint deterministically overrides the score. The owning
	// section's hint is authoritative even when the anchor is elsewhere.
	switch el.Hint {
	case types.HintInline:
		return placement{elem: el, after: anchor, anchor: anchor, inline: true}, cross, nil
	case types.HintNearReference:
		return placement{elem: el, after: anchor, anchor: anchor}, cross, nil
	case types.HintEndOfSection:
		end := anchor
		if ownerPresent {
			end = ownerBounds[1]
		}
		return placement{elem: el, after: end, anchor: anchor}, cross, nil
	case types.HintAppendix:
		return placement{elem: el, after: -1, anchor: anchor, appendix: true}, cross, nil
	}

	// Score-driven placement. Large elements go to the anchor section's
	// boundary rather than mid-flow.
	anchorBounds := bounds[paragraphs[anchor].SectionID]
	if lineCount(el.Body) > e.cfg.LargeElementLines {
		return placement{elem: el, after: anchorBounds[1], anchor: anchor}, cross, nil
	}

	// Prefer immediately after the anchor; when the anchor paragraph is too
	// short to interrupt, wait for the next paragraph boundary in the same
	// section.
	after := anchor
	if wordCount(paragraphs[anchor].Text) < e.cfg.MinFlowWords && anchor < anchorBounds[1] {
		after = anchor + 1
	}
	return placement{elem: el, after: after, anchor: anchor}, cross, nil
}

// positionAnchorless handles elements whose placeholder never appears in the
// text. Per prd005-placement R2.3.
func (e *Engine) positionAnchorless(el types.Element, ownerBounds [2]int, ownerPresent bool) (placement, *types.CrossSectionRef, error) {
	if el.Hint == types.HintAppendix {
		return placement{elem: el, after: -1, anchor: -1, appendix: true}, nil, nil
	}

	if !ownerPresent {
		return placement{}, nil, &PlacementError{
			Kind:      OrphanedElement,
			ElementID: el.ID,
			SectionID: el.SectionID,
		}
	}

	switch el.Hint {
	case types.HintEndOfSection:
		return placement{elem: el, after: ownerBounds[1], anchor: -1}, nil, nil
	case types.HintNearReference, types.HintInline:
		// These hints are meaningless without an anchor.
		return placement{}, nil, &PlacementError{
			Kind:      DanglingElement,
			ElementID: el.ID,
			SectionID: el.SectionID,
		}
	}

	// No anchor, no hint: a non-empty body defaults to end of section;
	// otherwise there is nothing to place.
	if strings.TrimSpace(el.Body) != "" {
		return placement{elem: el, after: ownerBounds[1], anchor: -1}, nil, nil
	}
	return placement{}, nil, &PlacementError{
		Kind:      DanglingElement,
		ElementID: el.ID,
		SectionID: el.SectionID,
	}
}
