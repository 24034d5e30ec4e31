// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schedule validates a plan's dependency graph and computes its wave
// layering. Implements: prd002-scheduler (R1-R4);
//
//	docs/ARCHITECTURE § Wave Scheduler.
package schedule

import (
	"fmt"
	"strings"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// GraphErrorKind classifies plan graph validation failures.
// Per prd002-scheduler R2.1.
type GraphErrorKind string

const (
	CyclicDependency  GraphErrorKind = "cyclic_dependency"
	MissingDependency GraphErrorKind = "missing_dependency"
	DuplicateSection  GraphErrorKind = "duplicate_section"
	SelfReference     GraphErrorKind = "self_reference"
)

// GraphError is a fatal plan validation failure, raised before any execution.
type GraphError struct {
	// Kind classifies the failure.
	Kind GraphErrorKind

	// SectionID is the offending section, when applicable.
	SectionID string

	// Dependency is the missing or self-referenced dependency ID.
	Dependency string

	// Cycle names the offending cycle for CyclicDependency, in traversal
	// order, first node repeated at the end.
	Cycle []string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case CyclicDependency:
		return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
	case MissingDependency:
		return fmt.Sprintf("section %q depends on unknown section %q", e.SectionID, e.Dependency)
	case DuplicateSection:
		return fmt.Sprintf("duplicate section id %q", e.SectionID)
	case SelfReference:
		return fmt.Sprintf("section %q depends on itself", e.SectionID)
	}
	return fmt.Sprintf("graph error in section %q", e.SectionID)
}

// graph is the validated adjacency view of a plan.
type graph struct {
	// order maps section ID to declared plan position, used for
	// deterministic intra-wave ordering.
	order map[string]int

	// deps maps section ID to its dependency IDs.
	deps map[string][]string

	// dependents is the reverse adjacency: section ID to sections that
	// depend on it.
	dependents map[string][]string
}

// buildGraph validates section IDs and dependency references and returns the
// adjacency view. Cycle detection happens separately in checkAcyclic.
func buildGraph(plan *types.Plan) (*graph, error) {
	g := &graph{
		order:      make(map[string]int, len(plan.Sections)),
		deps:       make(map[string][]string, len(plan.Sections)),
		dependents: make(map[string][]string),
	}

	for i, s := range plan.Sections {
		if _, seen := g.order[s.ID]; seen {
			return nil, &GraphError{Kind: DuplicateSection, SectionID: s.ID}
		}
		g.order[s.ID] = i
	}

	for _, s := range plan.Sections {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return nil, &GraphError{Kind: SelfReference, SectionID: s.ID, Dependency: dep}
			}
			if _, ok := g.order[dep]; !ok {
				return nil, &GraphError{Kind: MissingDependency, SectionID: s.ID, Dependency: dep}
			}
			g.deps[s.ID] = append(g.deps[s.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], s.ID)
		}
	}

	return g, nil
}

// checkAcyclic runs a depth-first cycle check over the graph. On finding a
// cycle it returns a CyclicDependency error naming the cycle path.
// Per prd002-scheduler R2.2.
func (g *graph) checkAcyclic(plan *types.Plan) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))

	var stack []string
	var visit func(id string) *GraphError
	visit = func(id string) *GraphError {
		state[id] = inStack
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			switch state[dep] {
			case inStack:
				// Extract the cycle from the traversal stack.
				start := 0
				for i, sid := range stack {
					if sid == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), dep)
				return &GraphError{Kind: CyclicDependency, Cycle: cycle}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	// Iterate in declared order so the reported cycle is stable.
	for _, s := range plan.Sections {
		if state[s.ID] == unvisited {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// DependencyClosure returns the transitive set of sections the given section
// depends on. Per prd004-shared-context R2.2.
func (g *graph) closure(id string) map[string]bool {
	out := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range g.deps[cur] {
			if !out[dep] {
				out[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	return out
}
