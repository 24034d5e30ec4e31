// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ElementType categorizes a non-prose artifact referenced from section text.
// Per prd005-placement R1.1.
type ElementType string

const (
	ElementTable    ElementType = "table"
	ElementFigure   ElementType = "figure"
	ElementEquation ElementType = "equation"
	ElementCode     ElementType = "code"
)

// CaptionPrefix returns the label prefix used when numbering captions
// (e.g. "Table" for tables).
func (t ElementType) CaptionPrefix() string {
	switch t {
	case ElementTable:
		return "Table"
	case ElementFigure:
		return "Figure"
	case ElementEquation:
		return "Equation"
	case ElementCode:
		return "Listing"
	}
	return "Element"
}

// PlacementHint is an explicit author override for where an element lands.
// Per prd005-placement R3.4.
type PlacementHint string

const (
	// HintNone means placement is score-driven.
	HintNone PlacementHint = ""

	// HintNearReference forces placement immediately after the anchor paragraph.
	HintNearReference PlacementHint = "near_reference"

	// HintEndOfSection forces placement after the owning section's last paragraph.
	HintEndOfSection PlacementHint = "end_of_section"

	// HintAppendix forces placement into the document appendix.
	HintAppendix PlacementHint = "appendix"

	// HintInline forces rendering at the placeholder position itself.
	HintInline PlacementHint = "inline"
)

// Valid reports whether the hint is one of the recognized values.
func (h PlacementHint) Valid() bool {
	switch h {
	case HintNone, HintNearReference, HintEndOfSection, HintAppendix, HintInline:
		return true
	}
	return false
}

// Element is a table, figure, equation, or code artifact referenced from
// section text via a placeholder token. Caption numbers are assigned during
// placement, never during generation. Per prd005-placement R1.1-R1.4.
type Element struct {
	// ID uniquely identifies the element across the whole document.
	ID string `json:"id" yaml:"id"`

	// Type categorizes the element and scopes its caption numbering.
	Type ElementType `json:"type" yaml:"type"`

	// Body is the raw content payload (table markup, image path, equation
	// source). May be filled from a sandbox output file after execution.
	Body string `json:"body" yaml:"body"`

	// SectionID is the owning section.
	SectionID string `json:"section_id" yaml:"section_id"`

	// Hint is an optional explicit placement override.
	Hint PlacementHint `json:"hint,omitempty" yaml:"hint,omitempty"`

	// FromFile names a sandbox output file whose contents become Body.
	// Per prd003-sandbox R4.2.
	FromFile string `json:"from_file,omitempty" yaml:"from_file,omitempty"`

	// Caption is an optional caption text appended after the assigned number.
	Caption string `json:"caption,omitempty" yaml:"caption,omitempty"`
}
