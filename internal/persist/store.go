// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package persist stores run checkpoints so an interrupted run can resume
// from its last completed wave. Implements: prd007-persistence (R1-R4);
//
//	docs/ARCHITECTURE § Persistence.
package persist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// ErrNotFound is returned when no checkpoint exists for a run.
var ErrNotFound = errors.New("persist: checkpoint not found")

// RunSummary describes one stored run for listing.
type RunSummary struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	PlanTitle string    `json:"plan_title" yaml:"plan_title"`
	Wave      int       `json:"wave" yaml:"wave"`
	TakenAt   time.Time `json:"taken_at" yaml:"taken_at"`
}

// Store persists checkpoints keyed by run ID. Save overwrites any earlier
// checkpoint for the same run and wave; Load returns the checkpoint with
// the highest wave index.
type Store interface {
	Save(ctx context.Context, cp types.Checkpoint) error
	Load(ctx context.Context, runID string) (types.Checkpoint, error)
	List(ctx context.Context) ([]RunSummary, error)
	Delete(ctx context.Context, runID string) error
	Close() error
}

// MemoryStore is an in-memory Store used in tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string][]types.Checkpoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]types.Checkpoint)}
}

// Save records cp, replacing an existing checkpoint for the same wave.
func (m *MemoryStore) Save(_ context.Context, cp types.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.runs[cp.RunID]
	for i, existing := range cps {
		if existing.Wave == cp.Wave {
			cps[i] = cp
			return nil
		}
	}
	m.runs[cp.RunID] = append(cps, cp)
	return nil
}

// Load returns the highest-wave checkpoint for runID.
func (m *MemoryStore) Load(_ context.Context, runID string) (types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.runs[runID]
	if len(cps) == 0 {
		return types.Checkpoint{}, ErrNotFound
	}
	best := cps[0]
	for _, cp := range cps[1:] {
		if cp.Wave > best.Wave {
			best = cp
		}
	}
	return best, nil
}

// List returns one summary per run, at its highest wave, sorted by run ID.
func (m *MemoryStore) List(_ context.Context) ([]RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunSummary
	for runID := range m.runs {
		cp, _ := m.loadLocked(runID)
		out = append(out, RunSummary{
			RunID:     cp.RunID,
			PlanTitle: cp.PlanTitle,
			Wave:      cp.Wave,
			TakenAt:   cp.TakenAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func (m *MemoryStore) loadLocked(runID string) (types.Checkpoint, error) {
	cps := m.runs[runID]
	if len(cps) == 0 {
		return types.Checkpoint{}, ErrNotFound
	}
	best := cps[0]
	for _, cp := range cps[1:] {
		if cp.Wave > best.Wave {
			best = cp
		}
	}
	return best, nil
}

// Delete removes all checkpoints for runID.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
