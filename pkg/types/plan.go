// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data model for the composition pipeline:
// plans, sections, elements, placed documents, checkpoints, and configuration.
package types

// SectionStatus tracks a section through the execution lifecycle.
// Per prd002-scheduler R1.2.
type SectionStatus string

const (
	StatusPending   SectionStatus = "pending"
	StatusBlocked   SectionStatus = "blocked"
	StatusReady     SectionStatus = "ready"
	StatusRunning   SectionStatus = "running"
	StatusCompleted SectionStatus = "completed"
	StatusFailed    SectionStatus = "failed"
)

// Terminal reports whether a section in this status will never run again.
func (s SectionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// RoleTag selects a generation strategy for a section. The engine treats the
// tag as opaque; the ContentGenerator maps it to concrete behavior.
// Per prd001-plan R2.3.
type RoleTag string

// WordRange is the target word-count band for a section's prose.
// Per prd001-plan R2.4.
type WordRange struct {
	// Min is the lower bound on generated words.
	Min int `json:"min" yaml:"min"`

	// Max is the upper bound on generated words.
	Max int `json:"max" yaml:"max"`
}

// Section is one schedulable unit of document content. Sections are immutable
// after planning; execution state lives in SectionState.
// Per prd001-plan R2.1-R2.6.
type Section struct {
	// ID uniquely identifies the section within a plan (e.g. "methods").
	ID string `json:"id" yaml:"id"`

	// Title is the section heading used in the assembled document.
	Title string `json:"title" yaml:"title"`

	// DependsOn lists section IDs this section builds on. Every entry must
	// name an existing section and must not be the section itself.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Role selects the generation strategy for this section.
	Role RoleTag `json:"role" yaml:"role"`

	// Words is the target word-count range.
	Words WordRange `json:"words" yaml:"words"`

	// ElementHints maps element IDs owned by this section to an explicit
	// placement hint, overriding the computed placement score. Per prd005-placement R3.4.
	ElementHints map[string]PlacementHint `json:"element_hints,omitempty" yaml:"element_hints,omitempty"`
}

// Plan is the static input structure for one composition run. Document order
// is the declared order of Sections, independent of execution order.
// Per prd001-plan R1.1-R1.3.
type Plan struct {
	// Title is the document title.
	Title string `json:"title" yaml:"title"`

	// Sections lists the document's sections in final document order.
	Sections []Section `json:"sections" yaml:"sections"`
}

// Section returns the section with the given ID, or nil.
func (p *Plan) Section(id string) *Section {
	for i := range p.Sections {
		if p.Sections[i].ID == id {
			return &p.Sections[i]
		}
	}
	return nil
}

// DocumentOrder returns section IDs in declared document order.
func (p *Plan) DocumentOrder() []string {
	ids := make([]string, len(p.Sections))
	for i, s := range p.Sections {
		ids[i] = s.ID
	}
	return ids
}

// FailureKind classifies why a section failed. Per prd006-orchestrator R4.2.
type FailureKind string

const (
	FailureGeneration     FailureKind = "generation_error"
	FailureTimedOut       FailureKind = "timed_out"
	FailureMemoryExceeded FailureKind = "memory_exceeded"
	FailureRuntime        FailureKind = "runtime_failure"
	FailureSectionTimeout FailureKind = "section_timeout"
)

// SectionState is the mutable execution state for one section.
// Per prd006-orchestrator R2.1.
type SectionState struct {
	// Status is the section's current lifecycle status.
	Status SectionStatus `json:"status" yaml:"status"`

	// Text is the produced prose. Present only when Status is completed.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// ElementIDs lists the element placeholders referenced by Text.
	ElementIDs []string `json:"element_ids,omitempty" yaml:"element_ids,omitempty"`

	// FailureKind classifies a failure. Empty unless Status is failed.
	FailureKind FailureKind `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`

	// FailureMessage is the human-readable failure detail.
	FailureMessage string `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`

	// Wave is the index of the wave the section was assigned to.
	Wave int `json:"wave" yaml:"wave"`
}
