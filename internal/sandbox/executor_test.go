// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// mockRuntime simulates container execution without a real runtime.
type mockRuntime struct {
	executeFunc func(ctx context.Context, spec RunSpec) (int, error)
	lastSpec    RunSpec
	calls       int
}

func (m *mockRuntime) Name() string                   { return "mock" }
func (m *mockRuntime) Available() bool                { return true }
func (m *mockRuntime) ImageExists(image string) error { return nil }

func (m *mockRuntime) Execute(ctx context.Context, spec RunSpec) (int, error) {
	m.calls++
	m.lastSpec = spec
	if m.executeFunc != nil {
		return m.executeFunc(ctx, spec)
	}
	return 0, nil
}

func newTestExecutor(t *testing.T, rt Runtime) *Executor {
	t.Helper()
	return NewExecutor(types.SandboxConfig{
		Image:    "compose-sandbox:latest",
		WorkRoot: t.TempDir(),
	}, rt, nil)
}

func TestRunCompleted(t *testing.T) {
	rt := &mockRuntime{
		executeFunc: func(_ context.Context, spec RunSpec) (int, error) {
			spec.Stdout.Write([]byte("rows: 42\n"))
			// Simulate a declared output file left behind by the task.
			err := os.WriteFile(filepath.Join(spec.WorkDir, "summary.csv"), []byte("a,b\n1,2\n"), 0o644)
			require.NoError(t, err)
			return 0, nil
		},
	}
	e := newTestExecutor(t, rt)

	res, err := e.Run(context.Background(), "print('hi')", Limits{
		Timeout:     time.Second,
		OutputFiles: []string{"summary.csv", "missing.png"},
	})
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, res.Kind)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "rows: 42\n", res.Stdout)
	assert.Equal(t, []byte("a,b\n1,2\n"), res.Outputs["summary.csv"])
	_, harvested := res.Outputs["missing.png"]
	assert.False(t, harvested, "absent files are skipped, not errors")
}

func TestRunWritesTaskFile(t *testing.T) {
	var gotCode string
	rt := &mockRuntime{
		executeFunc: func(_ context.Context, spec RunSpec) (int, error) {
			data, err := os.ReadFile(filepath.Join(spec.WorkDir, "task.py"))
			require.NoError(t, err)
			gotCode = string(data)
			return 0, nil
		},
	}
	e := newTestExecutor(t, rt)

	_, err := e.Run(context.Background(), "import math\nprint(math.pi)", Limits{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "import math\nprint(math.pi)", gotCode)
	assert.Equal(t, []string{"python3", "task.py"}, rt.lastSpec.Command)
}

func TestRunThreadsNetworkAllowList(t *testing.T) {
	rt := &mockRuntime{}
	e := newTestExecutor(t, rt)

	_, err := e.Run(context.Background(), "x = 1", Limits{
		Timeout:    time.Second,
		AllowHosts: []string{"api.anthropic.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"api.anthropic.com"}, rt.lastSpec.AllowHosts)
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		exit     int
		stderr   string
		wantKind ResultKind
	}{
		{name: "memory exceeded on 137", exit: 137, wantKind: ResultMemoryExceeded},
		{name: "runtime failure on nonzero", exit: 2, stderr: "Traceback", wantKind: ResultRuntimeFailure},
		{name: "success on zero", exit: 0, wantKind: ResultCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &mockRuntime{
				executeFunc: func(_ context.Context, spec RunSpec) (int, error) {
					if tt.stderr != "" {
						spec.Stderr.Write([]byte(tt.stderr))
					}
					return tt.exit, nil
				},
			}
			e := newTestExecutor(t, rt)
			res, err := e.Run(context.Background(), "x = 1", Limits{Timeout: time.Second})
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.exit, res.ExitCode)
			assert.Equal(t, tt.stderr, res.Stderr)
		})
	}
}

func TestRunTimedOut(t *testing.T) {
	rt := &mockRuntime{
		executeFunc: func(ctx context.Context, _ RunSpec) (int, error) {
			// Simulate a task that ignores its deadline until killed.
			<-ctx.Done()
			return 137, ctx.Err()
		},
	}
	e := newTestExecutor(t, rt)

	start := time.Now()
	res, err := e.Run(context.Background(), "while True: pass", Limits{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, ResultTimedOut, res.Kind, "deadline beats the 137 exit code")
	assert.Less(t, time.Since(start), 2*time.Second, "termination must be bounded")
}

func TestRunForbiddenImportSkipsContainer(t *testing.T) {
	rt := &mockRuntime{}
	e := newTestExecutor(t, rt)

	res, err := e.Run(context.Background(), "import socket\nimport numpy", Limits{
		Timeout:        time.Second,
		AllowedImports: []string{"numpy", "pandas"},
	})
	require.NoError(t, err)

	assert.Equal(t, ResultForbiddenImport, res.Kind)
	assert.Contains(t, res.Stderr, "socket")
	assert.Equal(t, 0, rt.calls, "no container may start after a rejected static check")
}

func TestWorkDirDestroyedOnEveryPath(t *testing.T) {
	workRoot := t.TempDir()

	tests := []struct {
		name string
		exec func(ctx context.Context, spec RunSpec) (int, error)
	}{
		{
			name: "success",
			exec: func(context.Context, RunSpec) (int, error) { return 0, nil },
		},
		{
			name: "runtime failure",
			exec: func(context.Context, RunSpec) (int, error) { return 1, nil },
		},
		{
			name: "timeout",
			exec: func(ctx context.Context, _ RunSpec) (int, error) {
				<-ctx.Done()
				return -1, ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &mockRuntime{executeFunc: tt.exec}
			e := NewExecutor(types.SandboxConfig{Image: "img", WorkRoot: workRoot}, rt, nil)

			_, err := e.Run(context.Background(), "x = 1", Limits{Timeout: 20 * time.Millisecond})
			require.NoError(t, err)

			entries, err := os.ReadDir(workRoot)
			require.NoError(t, err)
			for _, entry := range entries {
				if strings.HasPrefix(entry.Name(), "sandbox-") {
					t.Errorf("working directory %s survived %s", entry.Name(), tt.name)
				}
			}
		})
	}
}

func TestCheckImports(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		allowed []string
		want    []string
	}{
		{
			name:    "nil allow-list disables check",
			code:    "import os\nimport socket",
			allowed: nil,
			want:    nil,
		},
		{
			name:    "all imports allowed",
			code:    "import numpy\nfrom pandas import DataFrame",
			allowed: []string{"numpy", "pandas"},
			want:    nil,
		},
		{
			name:    "violation detected",
			code:    "import numpy\nimport subprocess",
			allowed: []string{"numpy"},
			want:    []string{"subprocess"},
		},
		{
			name:    "dotted module checked by root",
			code:    "from matplotlib.pyplot import plot",
			allowed: []string{"matplotlib"},
			want:    nil,
		},
		{
			name:    "violations deduplicated and sorted",
			code:    "import zlib\nimport base64\nimport zlib",
			allowed: []string{},
			want:    []string{"base64", "zlib"},
		},
		{
			name:    "indented imports still caught",
			code:    "def f():\n    import socket\n    return socket",
			allowed: []string{"numpy"},
			want:    []string{"socket"},
		},
		{
			name:    "import inside string not matched",
			code:    `print("do not import this")`,
			allowed: []string{},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckImports(tt.code, tt.allowed)
			assert.Equal(t, tt.want, got)
		})
	}
}
