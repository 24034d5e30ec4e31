// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrate drives a composition run end to end: it schedules
// sections into waves, executes each wave on a bounded worker pool, commits
// shared context at wave boundaries, checkpoints progress, and assembles the
// final document. Implements: prd006-orchestrator (R1-R5);
//
//	docs/ARCHITECTURE § Orchestrator.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/compose-engine/internal/contextstore"
	"github.com/pdiddy/compose-engine/internal/persist"
	"github.com/pdiddy/compose-engine/internal/place"
	"github.com/pdiddy/compose-engine/internal/schedule"
	"github.com/pdiddy/compose-engine/pkg/types"
)

const defaultWorkers = 4

const defaultSectionTimeout = 10 * time.Minute

// ErrCriticalFailure aborts a run when a section listed in CriticalSections
// fails. Still-running siblings are cancelled and later waves never start.
var ErrCriticalFailure = errors.New("critical section failed")

// Options configures an Orchestrator beyond its required collaborators.
type Options struct {
	// Config holds worker pool and timeout settings.
	Config types.OrchestratorConfig

	// Placement configures the element placement engine used in assembly.
	Placement types.PlacementConfig

	// Sandbox runs auxiliary code for section tasks. Nil disables sandboxing.
	Sandbox CodeRunner

	// Checkpoints persists a checkpoint after each wave. Nil disables
	// checkpointing.
	Checkpoints persist.Store

	// Logger receives structured run events. Nil means no logging.
	Logger *zap.Logger

	// Progress receives human-readable per-wave progress lines. Nil
	// discards them.
	Progress io.Writer
}

// Orchestrator executes one plan. It is single-use: Run or Resume may be
// called once.
type Orchestrator struct {
	plan  *types.Plan
	gen   Generator
	sched *schedule.Schedule
	store *contextstore.Store

	cfg       types.OrchestratorConfig
	placement types.PlacementConfig
	sandbox   CodeRunner
	ckpt      persist.Store
	log       *zap.Logger
	out       io.Writer

	runID    string
	critical map[string]bool

	mu        sync.Mutex
	states    map[string]types.SectionState
	elements  []types.Element
	durations map[string]time.Duration
}

// New builds an Orchestrator for plan. The plan's dependency graph is
// validated lazily in Run, so a malformed plan surfaces there.
func New(plan *types.Plan, gen Generator, opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SectionTimeout <= 0 {
		cfg.SectionTimeout = defaultSectionTimeout
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := opts.Progress
	if out == nil {
		out = io.Discard
	}

	critical := make(map[string]bool, len(cfg.CriticalSections))
	for _, id := range cfg.CriticalSections {
		critical[id] = true
	}

	return &Orchestrator{
		plan:      plan,
		gen:       gen,
		store:     contextstore.New(),
		cfg:       cfg,
		placement: opts.Placement,
		sandbox:   opts.Sandbox,
		ckpt:      opts.Checkpoints,
		log:       log,
		out:       out,
		critical:  critical,
		states:    make(map[string]types.SectionState),
		durations: make(map[string]time.Duration),
	}
}

// Run executes the plan from scratch: Planning, then one Executing pass per
// wave, then Assembling. The report is returned even when the run fails;
// the document is nil unless at least one section completed and assembly
// succeeded.
func (o *Orchestrator) Run(ctx context.Context) (*types.RunReport, *types.PlacedDocument, error) {
	o.runID = uuid.NewString()
	return o.run(ctx, 0)
}

// Resume continues a checkpointed run. Completed sections are restored and
// skipped; failed and blocked sections are reset and re-attempted together
// with everything that never ran. Per prd007-persistence R3.1-R3.4.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*types.RunReport, *types.PlacedDocument, error) {
	if o.ckpt == nil {
		return nil, nil, fmt.Errorf("resume: no checkpoint store configured")
	}
	cp, err := o.ckpt.Load(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	if cp.PlanTitle != o.plan.Title {
		return nil, nil, fmt.Errorf("resume %s: checkpoint is for plan %q, not %q",
			runID, cp.PlanTitle, o.plan.Title)
	}

	o.runID = runID
	o.store.Restore(cp.Context)
	o.elements = append(o.elements, cp.Elements...)
	for id, st := range cp.Sections {
		if st.Status == types.StatusCompleted {
			o.states[id] = st
		}
	}

	fmt.Fprintf(o.out, "resuming run %s from wave %d (%d sections done)\n",
		runID, cp.Wave, len(o.states))
	return o.run(ctx, 0)
}

func (o *Orchestrator) run(ctx context.Context, startWave int) (*types.RunReport, *types.PlacedDocument, error) {
	startedAt := time.Now()
	report := &types.RunReport{
		RunID:     o.runID,
		PlanTitle: o.plan.Title,
		State:     types.RunPlanning,
		StartedAt: startedAt,
	}

	sched, err := schedule.Build(o.plan)
	if err != nil {
		report.State = types.RunFailed
		report.FinishedAt = time.Now()
		return report, nil, fmt.Errorf("planning: %w", err)
	}
	o.sched = sched

	// Carry restored terminal states into the fresh schedule.
	o.mu.Lock()
	for id, st := range o.states {
		sched.SetStatus(id, st.Status)
	}
	o.mu.Unlock()

	waves := sched.Waves()
	o.log.Info("run planned",
		zap.String("run_id", o.runID),
		zap.Int("sections", len(o.plan.Sections)),
		zap.Int("waves", len(waves)))

	report.State = types.RunExecuting
	var critErr error
	for _, wave := range waves[startWave:] {
		if err := ctx.Err(); err != nil {
			report.State = types.RunFailed
			report.FinishedAt = time.Now()
			o.fillReport(report)
			return report, nil, err
		}

		if err := o.executeWave(ctx, wave); err != nil {
			if errors.Is(err, ErrCriticalFailure) {
				critErr = err
				break
			}
			report.State = types.RunFailed
			report.FinishedAt = time.Now()
			o.fillReport(report)
			return report, nil, err
		}

		if err := o.checkpoint(ctx, wave.Index); err != nil {
			o.log.Warn("checkpoint failed", zap.Int("wave", wave.Index), zap.Error(err))
			fmt.Fprintf(o.out, "warning: checkpoint after wave %d failed: %v\n", wave.Index, err)
		}
	}

	if critErr != nil {
		report.State = types.RunFailed
		report.FinishedAt = time.Now()
		o.fillReport(report)
		fmt.Fprintf(o.out, "run aborted: %v\n", critErr)
		return report, nil, critErr
	}

	report.State = types.RunAssembling
	doc, err := o.assemble()
	if err != nil {
		report.State = types.RunFailed
		report.FinishedAt = time.Now()
		o.fillReport(report)
		return report, nil, fmt.Errorf("assembling: %w", err)
	}

	report.State = types.RunCompleted
	o.fillReport(report)
	for _, s := range report.Sections {
		if s.Status != types.StatusCompleted {
			report.State = types.RunFailed
			break
		}
	}
	report.FinishedAt = time.Now()

	o.log.Info("run finished",
		zap.String("run_id", o.runID),
		zap.String("state", string(report.State)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, doc, nil
}

// executeWave runs the wave's non-blocked, not-yet-completed sections on a
// bounded worker pool and waits for all of them before returning. A critical
// failure cancels the pool and surfaces as ErrCriticalFailure.
func (o *Orchestrator) executeWave(ctx context.Context, wave schedule.Wave) error {
	runnable := o.runnable(wave)
	if len(runnable) == 0 {
		fmt.Fprintf(o.out, "wave %d: nothing to run\n", wave.Index)
		return nil
	}

	fmt.Fprintf(o.out, "wave %d: %d section(s)\n", wave.Index, len(runnable))
	snap := o.store.Snapshot()

	// The whole wave is dispatched at once; sections wait ready until a
	// worker slot picks them up.
	for _, id := range runnable {
		o.sched.SetStatus(id, types.StatusReady)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, id := range runnable {
		id := id
		g.Go(func() error {
			return o.runSection(gctx, id, wave.Index, snap)
		})
	}
	return g.Wait()
}

// runnable filters a wave down to sections that still need work: blocked
// sections are skipped per the schedule, completed ones were restored from a
// checkpoint.
func (o *Orchestrator) runnable(wave schedule.Wave) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []string
	for _, id := range o.sched.Runnable(wave) {
		if o.states[id].Status == types.StatusCompleted {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) runSection(ctx context.Context, id string, wave int, snap contextstore.Snapshot) error {
	sec := o.plan.Section(id)
	o.sched.SetStatus(id, types.StatusRunning)
	o.log.Info("section started", zap.String("section", id), zap.Int("wave", wave))

	sectionCtx, cancel := context.WithTimeout(ctx, o.cfg.SectionTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.gen.Generate(sectionCtx, GenerationRequest{
		Section:   *sec,
		PlanTitle: o.plan.Title,
		Wave:      wave,
		Context: &ContextView{
			snap:     snap,
			closure:  o.sched.Closure(id),
			docOrder: o.plan.DocumentOrder(),
		},
		Sandbox: o.sandbox,
	})
	elapsed := time.Since(start)

	if err != nil {
		// The whole run being cancelled is not a section failure. The
		// section goes back to pending so the report and a later resume see
		// it as never run, not stuck in running.
		if ctx.Err() != nil && sectionCtx.Err() != context.DeadlineExceeded {
			o.sched.SetStatus(id, types.StatusPending)
			return ctx.Err()
		}
		return o.fail(id, wave, elapsed, classify(sectionCtx, err), err)
	}

	if err := o.commit(sec, res); err != nil {
		return o.fail(id, wave, elapsed, types.FailureGeneration, err)
	}

	o.mu.Lock()
	o.states[id] = types.SectionState{
		Status:     types.StatusCompleted,
		Text:       res.Text,
		ElementIDs: place.ExtractPlaceholderIDs(res.Text),
		Wave:       wave,
	}
	o.durations[id] = elapsed
	o.mu.Unlock()
	o.sched.SetStatus(id, types.StatusCompleted)

	fmt.Fprintf(o.out, "completed %s (wave %d, %s)\n", id, wave, elapsed.Round(time.Millisecond))
	o.log.Info("section completed",
		zap.String("section", id),
		zap.Int("wave", wave),
		zap.Duration("elapsed", elapsed))
	return nil
}

// commit applies a section's context writes, accumulator appends, and
// elements to run state. Element hints declared in the plan override
// whatever the generator set.
func (o *Orchestrator) commit(sec *types.Section, res GenerationResult) error {
	keys := make([]string, 0, len(res.ContextWrites))
	for k := range res.ContextWrites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := o.store.Write(sec.ID, k, res.ContextWrites[k]); err != nil {
			return fmt.Errorf("context write: %w", err)
		}
	}

	accKeys := make([]string, 0, len(res.Accumulate))
	for k := range res.Accumulate {
		accKeys = append(accKeys, k)
	}
	sort.Strings(accKeys)
	for _, k := range accKeys {
		for _, item := range res.Accumulate[k] {
			o.store.Append(sec.ID, k, item)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, el := range res.Elements {
		if el.SectionID == "" {
			el.SectionID = sec.ID
		}
		if hint, ok := sec.ElementHints[el.ID]; ok {
			el.Hint = hint
		}
		o.elements = append(o.elements, el)
	}
	return nil
}

// fail records a section failure, blocks its transitive dependents, and
// aborts the wave if the section is critical.
func (o *Orchestrator) fail(id string, wave int, elapsed time.Duration, kind types.FailureKind, cause error) error {
	blocked := o.sched.MarkFailed(id)

	o.mu.Lock()
	o.states[id] = types.SectionState{
		Status:         types.StatusFailed,
		FailureKind:    kind,
		FailureMessage: cause.Error(),
		Wave:           wave,
	}
	o.durations[id] = elapsed
	for _, dep := range blocked {
		o.states[dep] = types.SectionState{
			Status: types.StatusBlocked,
			Wave:   o.sched.WaveOf(dep),
		}
	}
	o.mu.Unlock()

	fmt.Fprintf(o.out, "failed %s (%s): %v\n", id, kind, cause)
	if len(blocked) > 0 {
		fmt.Fprintf(o.out, "blocked: %v\n", blocked)
	}
	o.log.Warn("section failed",
		zap.String("section", id),
		zap.String("kind", string(kind)),
		zap.Strings("blocked", blocked),
		zap.Error(cause))

	if o.critical[id] {
		return fmt.Errorf("section %s: %w", id, ErrCriticalFailure)
	}
	return nil
}

// classify maps a section task error to a failure kind. The section deadline
// expiring is its own kind so callers can tell engine timeouts from sandbox
// timeouts.
func classify(sectionCtx context.Context, err error) types.FailureKind {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Kind
	}
	if sectionCtx.Err() == context.DeadlineExceeded {
		return types.FailureSectionTimeout
	}
	return types.FailureGeneration
}

// checkpoint commits full run state after a wave boundary.
func (o *Orchestrator) checkpoint(ctx context.Context, wave int) error {
	if o.ckpt == nil {
		return nil
	}

	o.mu.Lock()
	sections := make(map[string]types.SectionState, len(o.states))
	for id, st := range o.states {
		sections[id] = st
	}
	elements := append([]types.Element{}, o.elements...)
	o.mu.Unlock()

	return o.ckpt.Save(ctx, types.Checkpoint{
		RunID:     o.runID,
		PlanTitle: o.plan.Title,
		Wave:      wave,
		Sections:  sections,
		Context:   o.store.Dump(),
		Elements:  elements,
		TakenAt:   time.Now().UTC(),
	})
}

// assemble builds the placed document from completed sections in document
// order. Each section contributes its heading and prose; elements collected
// during execution are positioned by the placement engine.
func (o *Orchestrator) assemble() (*types.PlacedDocument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var sections []place.SectionText
	var elements []types.Element
	completed := make(map[string]bool)
	for _, sec := range o.plan.Sections {
		st, ok := o.states[sec.ID]
		if !ok || st.Status != types.StatusCompleted {
			continue
		}
		completed[sec.ID] = true
		sections = append(sections, place.SectionText{
			ID:   sec.ID,
			Text: fmt.Sprintf("## %s\n\n%s", sec.Title, st.Text),
		})
	}
	// Elements owned by failed or blocked sections have no prose to join.
	for _, el := range o.elements {
		if completed[el.SectionID] || el.Hint == types.HintAppendix {
			elements = append(elements, el)
		}
	}

	engine := place.NewEngine(o.placement)
	return engine.Place(o.plan.Title, sections, elements)
}

// fillReport populates per-section outcomes in document order.
func (o *Orchestrator) fillReport(report *types.RunReport) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report.Sections = report.Sections[:0]
	for _, sec := range o.plan.Sections {
		st, ok := o.states[sec.ID]
		if !ok {
			st = types.SectionState{
				Status: o.sched.Status(sec.ID),
				Wave:   o.sched.WaveOf(sec.ID),
			}
		}
		report.Sections = append(report.Sections, types.SectionResult{
			ID:          sec.ID,
			Status:      st.Status,
			Wave:        st.Wave,
			FailureKind: st.FailureKind,
			Message:     st.FailureMessage,
			Duration:    o.durations[sec.ID],
		})
	}
}
