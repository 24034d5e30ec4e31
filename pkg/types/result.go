// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunState is the orchestrator's top-level state.
// Per prd006-orchestrator R1.1.
type RunState string

const (
	RunPlanning   RunState = "planning"
	RunExecuting  RunState = "executing"
	RunAssembling RunState = "assembling"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
)

// SectionResult is the per-section outcome reported at the end of a run.
// Failed sections carry their failure kind and message so a caller can
// re-execute selectively. Per prd006-orchestrator R4.1-R4.3.
type SectionResult struct {
	// ID is the section ID.
	ID string `json:"id" yaml:"id"`

	// Status is the section's terminal status.
	Status SectionStatus `json:"status" yaml:"status"`

	// Wave is the wave the section was scheduled into.
	Wave int `json:"wave" yaml:"wave"`

	// FailureKind classifies the failure, when Status is failed.
	FailureKind FailureKind `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`

	// Message is the failure detail, when Status is failed.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Duration is how long the section task ran.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// RunReport summarizes one composition run.
// Per prd006-orchestrator R4.1.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id" yaml:"run_id"`

	// PlanTitle is the document title from the plan.
	PlanTitle string `json:"plan_title" yaml:"plan_title"`

	// State is the orchestrator's final state.
	State RunState `json:"state" yaml:"state"`

	// Sections lists per-section outcomes in document order.
	Sections []SectionResult `json:"sections" yaml:"sections"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	// FinishedAt is when the run reached a terminal state.
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Failed returns the results for sections that ended in failed status.
func (r *RunReport) Failed() []SectionResult {
	var out []SectionResult
	for _, s := range r.Sections {
		if s.Status == StatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// Blocked returns the results for sections that ended blocked.
func (r *RunReport) Blocked() []SectionResult {
	var out []SectionResult
	for _, s := range r.Sections {
		if s.Status == StatusBlocked {
			out = append(out, s)
		}
	}
	return out
}

// Checkpoint is a snapshot of full plan state taken at a wave boundary.
// It is consumed only by an explicit resume. Per prd007-persistence R2.1-R2.4.
type Checkpoint struct {
	// RunID identifies the run the checkpoint belongs to.
	RunID string `json:"run_id" yaml:"run_id"`

	// PlanTitle is recorded for sanity checks on resume.
	PlanTitle string `json:"plan_title" yaml:"plan_title"`

	// Wave is the index of the last fully committed wave.
	Wave int `json:"wave" yaml:"wave"`

	// Sections maps section ID to its execution state.
	Sections map[string]SectionState `json:"sections" yaml:"sections"`

	// Context is the serialized SharedContextStore contents.
	Context ContextDump `json:"context" yaml:"context"`

	// Elements holds every element produced so far.
	Elements []Element `json:"elements,omitempty" yaml:"elements,omitempty"`

	// TakenAt is when the checkpoint was committed.
	TakenAt time.Time `json:"taken_at" yaml:"taken_at"`
}

// ContextDump is the serializable form of the SharedContextStore: plain
// entries keyed by section then key, and accumulator contributions keyed by
// accumulator name then section. Per prd004-shared-context R5.1.
type ContextDump struct {
	// Entries maps sectionID -> key -> value.
	Entries map[string]map[string]string `json:"entries,omitempty" yaml:"entries,omitempty"`

	// Accumulators maps accumulator key -> sectionID -> appended items.
	Accumulators map[string]map[string][]string `json:"accumulators,omitempty" yaml:"accumulators,omitempty"`
}
