// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Paragraph is one paragraph of assembled text, tagged with its source
// section and position within that section. Per prd005-placement R2.1.
type Paragraph struct {
	// SectionID is the section that produced this paragraph.
	SectionID string `json:"section_id" yaml:"section_id"`

	// Index is the paragraph's zero-based position within its section.
	Index int `json:"index" yaml:"index"`

	// Text is the paragraph content with placeholders resolved to captions.
	Text string `json:"text" yaml:"text"`
}

// PlacedElement is an element with its final position and caption number.
// Per prd005-placement R4.1-R4.3.
type PlacedElement struct {
	// Element is the placed element.
	Element Element `json:"element" yaml:"element"`

	// Number is the per-type sequential caption number, assigned in final
	// insertion order.
	Number int `json:"number" yaml:"number"`

	// Label is the full caption label (e.g. "Table 3").
	Label string `json:"label" yaml:"label"`

	// AfterParagraph is the index into PlacedDocument.Paragraphs after which
	// the element is inserted. -1 for appendix elements.
	AfterParagraph int `json:"after_paragraph" yaml:"after_paragraph"`

	// Inline reports that the element renders at the placeholder position
	// inside its anchor paragraph rather than between paragraphs.
	Inline bool `json:"inline,omitempty" yaml:"inline,omitempty"`

	// Appendix reports that the element was pushed to the document appendix.
	Appendix bool `json:"appendix,omitempty" yaml:"appendix,omitempty"`
}

// TOCEntry is one heading in the generated table of contents.
// Per prd005-placement R6.1.
type TOCEntry struct {
	// Level is the heading depth (1 for #, 2 for ##, ...).
	Level int `json:"level" yaml:"level"`

	// Title is the heading text.
	Title string `json:"title" yaml:"title"`

	// SectionID is the section containing the heading.
	SectionID string `json:"section_id" yaml:"section_id"`
}

// CrossSectionRef records an element whose first placeholder reference lies
// outside its owning section. These are surfaced rather than silently placed;
// policy is configurable. Per prd005-placement R7.2.
type CrossSectionRef struct {
	// ElementID is the referenced element.
	ElementID string `json:"element_id" yaml:"element_id"`

	// OwnerSectionID is the section that owns the element.
	OwnerSectionID string `json:"owner_section_id" yaml:"owner_section_id"`

	// AnchorSectionID is the section containing the anchor paragraph.
	AnchorSectionID string `json:"anchor_section_id" yaml:"anchor_section_id"`
}

// PlacedDocument is the fully assembled document handed to an external
// renderer: ordered paragraphs, numbered elements, and a table of contents.
// Per prd005-placement R5.1.
type PlacedDocument struct {
	// Title is the document title from the plan.
	Title string `json:"title" yaml:"title"`

	// Paragraphs is the merged text in document order with captions resolved.
	Paragraphs []Paragraph `json:"paragraphs" yaml:"paragraphs"`

	// Elements lists every placed element in final insertion order.
	Elements []PlacedElement `json:"elements" yaml:"elements"`

	// TOC is the table of contents scanned from heading markers.
	TOC []TOCEntry `json:"toc" yaml:"toc"`

	// CrossSectionRefs lists elements anchored outside their owning section.
	CrossSectionRefs []CrossSectionRef `json:"cross_section_refs,omitempty" yaml:"cross_section_refs,omitempty"`
}
