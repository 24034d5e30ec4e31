// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schedule

import (
	"sort"
	"sync"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// Wave is an ordered batch of sections whose dependencies are all satisfied
// by strictly earlier waves. Sections within one wave carry no dependency
// edges among themselves. Per prd002-scheduler R3.1-R3.3.
type Wave struct {
	// Index is the wave's position in the schedule.
	Index int

	// SectionIDs lists the wave's sections in deterministic order:
	// declared plan order, then ID.
	SectionIDs []string
}

// Schedule is the validated execution plan: the wave layering plus per-section
// status tracking. Status mutation is safe for concurrent use; wave structure
// is immutable after Build.
type Schedule struct {
	waves []Wave

	mu     sync.RWMutex
	status map[string]types.SectionStatus

	g    *graph
	plan *types.Plan
}

// Build validates the plan's dependency graph and computes the wave layering
// with Kahn's algorithm: wave k holds every not-yet-assigned section whose
// dependencies all sit in waves 0..k-1. A cycle or dangling dependency
// returns a *GraphError and no schedule. Per prd002-scheduler R2, R3.
func Build(plan *types.Plan) (*Schedule, error) {
	g, err := buildGraph(plan)
	if err != nil {
		return nil, err
	}
	if err := g.checkAcyclic(plan); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(plan.Sections))
	for _, s := range plan.Sections {
		indegree[s.ID] = len(g.deps[s.ID])
	}

	status := make(map[string]types.SectionStatus, len(plan.Sections))
	assigned := make(map[string]bool, len(plan.Sections))

	var waves []Wave
	for len(assigned) < len(plan.Sections) {
		var ready []string
		for _, s := range plan.Sections {
			if !assigned[s.ID] && indegree[s.ID] == 0 {
				ready = append(ready, s.ID)
			}
		}

		// Deterministic intra-wave order: declared position, then ID.
		sort.Slice(ready, func(i, j int) bool {
			oi, oj := g.order[ready[i]], g.order[ready[j]]
			if oi != oj {
				return oi < oj
			}
			return ready[i] < ready[j]
		})

		wave := Wave{Index: len(waves), SectionIDs: ready}
		for _, id := range ready {
			assigned[id] = true
			status[id] = types.StatusPending
			for _, dep := range g.dependents[id] {
				indegree[dep]--
			}
		}
		waves = append(waves, wave)
	}

	return &Schedule{
		waves:  waves,
		status: status,
		g:      g,
		plan:   plan,
	}, nil
}

// Waves returns the schedule's wave sequence.
func (s *Schedule) Waves() []Wave {
	return s.waves
}

// WaveOf returns the wave index a section was assigned to, or -1.
func (s *Schedule) WaveOf(id string) int {
	for _, w := range s.waves {
		for _, sid := range w.SectionIDs {
			if sid == id {
				return w.Index
			}
		}
	}
	return -1
}

// Status returns a section's current status.
func (s *Schedule) Status(id string) types.SectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[id]
}

// SetStatus records a status transition for a section.
func (s *Schedule) SetStatus(id string, st types.SectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = st
}

// MarkFailed records a section as failed and recursively marks every
// transitive dependent as blocked. Blocked sections keep their computed wave;
// the orchestrator skips rather than reschedules them. Returns the IDs newly
// marked blocked. Per prd002-scheduler R4.1-R4.2.
func (s *Schedule) MarkFailed(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status[id] = types.StatusFailed

	var blocked []string
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range s.g.dependents[cur] {
			if s.status[dep] == types.StatusBlocked {
				continue
			}
			s.status[dep] = types.StatusBlocked
			blocked = append(blocked, dep)
			walk(dep)
		}
	}
	walk(id)

	sort.Strings(blocked)
	return blocked
}

// Runnable returns the wave's sections that are not blocked, in wave order.
// A wave whose sections are all blocked yields nil and is skipped without
// invoking the worker pool. Per prd006-orchestrator R2.4.
func (s *Schedule) Runnable(w Wave) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range w.SectionIDs {
		if s.status[id] != types.StatusBlocked {
			out = append(out, id)
		}
	}
	return out
}

// Closure returns the transitive dependency set for a section, used to gate
// SharedContextStore reads. Per prd004-shared-context R2.2.
func (s *Schedule) Closure(id string) map[string]bool {
	return s.g.closure(id)
}

// Statuses returns a copy of the full status map.
func (s *Schedule) Statuses() map[string]types.SectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.SectionStatus, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}
