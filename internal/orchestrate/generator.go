// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pdiddy/compose-engine/internal/contextstore"
	"github.com/pdiddy/compose-engine/internal/sandbox"
	"github.com/pdiddy/compose-engine/pkg/types"
)

// ContextView is the read surface a section task gets over the shared
// context store. It wraps the wave snapshot with the reader's dependency
// closure, so a task can only see what its dependencies wrote.
type ContextView struct {
	snap     contextstore.Snapshot
	closure  map[string]bool
	docOrder []string
}

// Read returns the value written by sectionID for key, if sectionID is in
// the reader's dependency closure.
func (v *ContextView) Read(sectionID, key string) (string, error) {
	return v.snap.Read(v.closure, sectionID, key)
}

// Merged returns an accumulator's items combined in document order.
func (v *ContextView) Merged(accKey string) []string {
	return v.snap.Merged(accKey, v.docOrder)
}

// CodeRunner executes auxiliary code under resource limits. Satisfied by
// *sandbox.Executor; tests supply a mock.
type CodeRunner interface {
	Run(ctx context.Context, code string, limits sandbox.Limits) (sandbox.ExecutionResult, error)
}

// GenerationRequest carries everything a generator needs to produce one
// section: the immutable section definition, the gated context view, and a
// sandbox for auxiliary code.
type GenerationRequest struct {
	// Section is the plan section being generated.
	Section types.Section

	// PlanTitle is the document title, for prompt framing.
	PlanTitle string

	// Wave is the wave index the section runs in.
	Wave int

	// Context is the dependency-gated view of the shared context store.
	Context *ContextView

	// Sandbox runs auxiliary code tasks. Nil when sandboxing is disabled.
	Sandbox CodeRunner
}

// GenerationResult is one section's output: prose with element placeholders,
// the elements themselves, and contributions to the shared context.
type GenerationResult struct {
	// Text is the section prose, with {{elem:ID}} placeholders.
	Text string

	// Elements are the non-prose artifacts the section produced.
	Elements []types.Element

	// ContextWrites maps keys to values written under the section's ID.
	ContextWrites map[string]string

	// Accumulate maps accumulator keys to items appended for this section.
	Accumulate map[string][]string
}

// Generator produces content for one section. Implementations must be safe
// for concurrent use; sections in a wave run in parallel.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// TaskError is a classified section failure. Generators return it to carry
// a failure kind through to the run report; any other error is recorded as
// a generation error.
type TaskError struct {
	Kind    types.FailureKind
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ExecuteTask runs code through the sandbox and converts sandbox-level
// failures into TaskErrors so the orchestrator reports them with the right
// kind. Engine faults pass through unclassified.
func ExecuteTask(ctx context.Context, runner CodeRunner, code string, limits sandbox.Limits) (sandbox.ExecutionResult, error) {
	if runner == nil {
		return sandbox.ExecutionResult{}, &TaskError{
			Kind:    types.FailureRuntime,
			Message: "no sandbox configured",
		}
	}
	res, err := runner.Run(ctx, code, limits)
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	if res.Failed() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = string(res.Kind)
		}
		return res, &TaskError{Kind: res.Kind.FailureKind(), Message: msg}
	}
	return res, nil
}

// ResolveFileElements fills element bodies from harvested sandbox output
// files. An element naming a file the task never wrote is an error; elements
// without FromFile pass through untouched.
func ResolveFileElements(elements []types.Element, outputs map[string][]byte) error {
	for i := range elements {
		el := &elements[i]
		if el.FromFile == "" {
			continue
		}
		data, ok := outputs[el.FromFile]
		if !ok {
			return &TaskError{
				Kind:    types.FailureRuntime,
				Message: fmt.Sprintf("element %s: task produced no output file %q", el.ID, el.FromFile),
			}
		}
		el.Body = string(data)
	}
	return nil
}

// backoffBase controls the base duration for generation retry backoff.
// Tests override this to avoid real sleeps.
var backoffBase = time.Second

// retryingGenerator wraps a Generator with exponential backoff. TaskErrors
// are not retried: a sandbox limit violation will not pass on a second try.
type retryingGenerator struct {
	inner      Generator
	maxRetries int
}

// WithRetry wraps gen so transient generation failures are retried with
// exponential backoff. maxRetries <= 0 defaults to 3.
func WithRetry(gen Generator, maxRetries int) Generator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &retryingGenerator{inner: gen, maxRetries: maxRetries}
}

func (g *retryingGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return GenerationResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		res, err := g.inner.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		var taskErr *TaskError
		if errors.As(err, &taskErr) || ctx.Err() != nil {
			return GenerationResult{}, err
		}
		lastErr = err
	}
	return GenerationResult{}, fmt.Errorf("after %d retries: %w", g.maxRetries, lastErr)
}

// EchoGenerator produces deterministic placeholder prose from the plan
// itself. It backs dry runs, where the pipeline shape matters but no AI
// backend is wired.
type EchoGenerator struct{}

func (EchoGenerator) Generate(_ context.Context, req GenerationRequest) (GenerationResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s covers its part of %q.", req.Section.Title, req.PlanTitle)
	if len(req.Section.DependsOn) > 0 {
		fmt.Fprintf(&b, " It builds on %s.", strings.Join(req.Section.DependsOn, ", "))
	}
	return GenerationResult{
		Text: b.String(),
		ContextWrites: map[string]string{
			"summary": fmt.Sprintf("placeholder summary for %s", req.Section.ID),
		},
	}, nil
}
