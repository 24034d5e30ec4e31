// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package plan loads and validates composition plans.
// Implements: prd001-plan (R1-R3);
//
//	docs/ARCHITECTURE § Plan.
package plan

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// Load reads a plan YAML file and validates its structure. Dependency graph
// checks (cycles, missing targets) belong to the scheduler; Load only
// enforces per-section well-formedness.
func Load(path string) (*types.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	var p types.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks structural invariants: a title, at least one section,
// non-empty unique section IDs, sane word ranges, and recognized placement
// hints (R3.1-R3.5).
func Validate(p *types.Plan) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("plan has no title")
	}
	if len(p.Sections) == 0 {
		return fmt.Errorf("plan %q has no sections", p.Title)
	}

	seen := make(map[string]bool, len(p.Sections))
	for i, s := range p.Sections {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("section %d has an empty id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate section id %q", s.ID)
		}
		seen[s.ID] = true

		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("section %q has no title", s.ID)
		}
		if s.Words.Min < 0 || s.Words.Max < 0 {
			return fmt.Errorf("section %q has a negative word bound", s.ID)
		}
		if s.Words.Max > 0 && s.Words.Min > s.Words.Max {
			return fmt.Errorf("section %q word range is inverted (%d > %d)",
				s.ID, s.Words.Min, s.Words.Max)
		}

		for elemID, hint := range s.ElementHints {
			if !hint.Valid() {
				return fmt.Errorf("section %q: unknown placement hint %q for element %q",
					s.ID, hint, elemID)
			}
		}
	}

	return nil
}
