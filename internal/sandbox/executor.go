// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// taskFile is the name the submitted code is written under inside the
// working directory.
const taskFile = "task.py"

// oomExitCode is the conventional exit code of a process killed by the
// kernel or the container runtime for exceeding its memory limit (128+9).
const oomExitCode = 137

// ResultKind classifies one sandbox run's outcome. Per prd003-sandbox R3.1.
type ResultKind string

const (
	ResultCompleted       ResultKind = "completed"
	ResultTimedOut        ResultKind = "timed_out"
	ResultMemoryExceeded  ResultKind = "memory_exceeded"
	ResultRuntimeFailure  ResultKind = "runtime_failure"
	ResultForbiddenImport ResultKind = "forbidden_import"
)

// FailureKind maps the result to the plan-level failure taxonomy.
func (k ResultKind) FailureKind() types.FailureKind {
	switch k {
	case ResultTimedOut:
		return types.FailureTimedOut
	case ResultMemoryExceeded:
		return types.FailureMemoryExceeded
	}
	return types.FailureRuntime
}

// Limits bounds one sandboxed task. Per prd003-sandbox R1.2-R1.5.
type Limits struct {
	// Timeout is the wall-clock deadline.
	Timeout time.Duration

	// MemoryMB is the memory ceiling in megabytes.
	MemoryMB int

	// AllowHosts is the network allow-list; empty denies all network.
	// Listed hosts are the only names resolvable from inside the container.
	AllowHosts []string

	// AllowedImports restricts which library roots the code may import.
	// nil disables the static check; empty forbids all imports.
	AllowedImports []string

	// OutputFiles names files the task is expected to leave in the working
	// directory; they are harvested into the result.
	OutputFiles []string
}

// ExecutionResult reports one completed sandbox run, whatever its outcome.
type ExecutionResult struct {
	// Kind classifies the outcome.
	Kind ResultKind

	// ExitCode is the container exit code; -1 when no process ran.
	ExitCode int

	// Stdout and Stderr are the captured output streams.
	Stdout string
	Stderr string

	// Outputs maps harvested output file names to their contents.
	Outputs map[string][]byte

	// Duration is the wall-clock run time.
	Duration time.Duration
}

// Failed reports whether the run ended in anything but success.
func (r ExecutionResult) Failed() bool {
	return r.Kind != ResultCompleted
}

// Executor runs auxiliary code tasks through a container Runtime. Each run
// gets an exclusive single-use working directory destroyed on every exit
// path. Per prd003-sandbox R2.1-R2.3.
type Executor struct {
	rt       Runtime
	image    string
	interp   string
	workRoot string
	log      *zap.Logger
}

// NewExecutor builds an Executor over the given runtime. Zero config fields
// get defaults: interpreter python3, work root os.TempDir().
func NewExecutor(cfg types.SandboxConfig, rt Runtime, log *zap.Logger) *Executor {
	interp := cfg.Interpreter
	if interp == "" {
		interp = "python3"
	}
	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		rt:       rt,
		image:    cfg.Image,
		interp:   interp,
		workRoot: workRoot,
		log:      log,
	}
}

// Run executes one code task under the given limits. The returned error is
// reserved for engine faults (working directory creation, runtime plumbing);
// task-level failures are reported through ExecutionResult.Kind.
// Per prd003-sandbox R3.1-R3.4.
func (e *Executor) Run(ctx context.Context, code string, limits Limits) (ExecutionResult, error) {
	start := time.Now()

	// Static import check runs before any container starts.
	if violations := CheckImports(code, limits.AllowedImports); len(violations) > 0 {
		e.log.Warn("sandbox rejected code",
			zap.Strings("forbidden_imports", violations))
		return ExecutionResult{
			Kind:     ResultForbiddenImport,
			ExitCode: -1,
			Stderr:   fmt.Sprintf("forbidden imports: %s", strings.Join(violations, ", ")),
			Duration: time.Since(start),
		}, nil
	}

	workDir, err := os.MkdirTemp(e.workRoot, "sandbox-")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("creating working directory: %w", err)
	}
	// Scoped release: the working directory goes away on every exit path,
	// including timeout and crash.
	defer os.RemoveAll(workDir)

	if err := os.WriteFile(filepath.Join(workDir, taskFile), []byte(code), 0o644); err != nil {
		return ExecutionResult{}, fmt.Errorf("writing task file: %w", err)
	}

	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	exit, runErr := e.rt.Execute(runCtx, RunSpec{
		Image:      e.image,
		WorkDir:    workDir,
		Command:    []string{e.interp, taskFile},
		MemoryMB:   limits.MemoryMB,
		AllowHosts: limits.AllowHosts,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})

	result := ExecutionResult{
		ExitCode: exit,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		result.Kind = ResultTimedOut
	case runErr != nil:
		return result, runErr
	case exit == oomExitCode:
		result.Kind = ResultMemoryExceeded
	case exit != 0:
		result.Kind = ResultRuntimeFailure
	default:
		result.Kind = ResultCompleted
	}

	// Harvest declared outputs even from failed runs; partial artifacts can
	// help diagnose the failure.
	result.Outputs = harvest(workDir, limits.OutputFiles)

	e.log.Info("sandbox run finished",
		zap.String("kind", string(result.Kind)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Int("outputs", len(result.Outputs)))

	return result, nil
}

// harvest reads the declared output files that exist in the working
// directory. Path components are stripped so a task cannot name files
// outside its own directory. Per prd003-sandbox R4.1-R4.2.
func harvest(workDir string, names []string) map[string][]byte {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string][]byte)
	for _, name := range names {
		base := filepath.Base(name)
		data, err := os.ReadFile(filepath.Join(workDir, base))
		if err != nil {
			continue
		}
		out[base] = data
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
