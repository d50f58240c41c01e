package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// requirePython skips tests that need a real interpreter.
func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(defaultInterpreter); err != nil {
		t.Skipf("%s not available: %v", defaultInterpreter, err)
	}
}

func newTestSandbox(t *testing.T, cfg Config) *Sandbox {
	t.Helper()
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(t.TempDir(), "output")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNew(t *testing.T) {
	s := newTestSandbox(t, Config{})

	// Output dir exists after prepare.
	info, err := os.Stat(s.OutputDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Scratch dir is private and removed on Close.
	scratch := s.scratchDir
	require.DirExists(t, scratch)
	s.Close()
	assert.NoDirExists(t, scratch)

	// Close is safe to call twice.
	s.Close()
}

func TestExecuteSuccess(t *testing.T) {
	requirePython(t)
	s := newTestSandbox(t, Config{})

	run := s.Execute(context.Background(), `print("row count:", 500)`)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.True(t, run.Success())
	assert.Contains(t, run.Output, "row count: 500")
	assert.Empty(t, run.Err)
}

func TestExecuteErrorBoundary(t *testing.T) {
	requirePython(t)
	s := newTestSandbox(t, Config{})

	// Exceptions inside the analysis body are contained: the harness
	// prints a traceback and exits cleanly instead of crashing.
	run := s.Execute(context.Background(), `x = 1 / 0`)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.Contains(t, run.Output, "Analysis Error")
	assert.Contains(t, run.Output, "ZeroDivisionError")
}

func TestExecuteNonZeroExit(t *testing.T) {
	requirePython(t)
	s := newTestSandbox(t, Config{})

	run := s.Execute(context.Background(), `raise SystemExit(3)`)

	assert.Equal(t, StatusNonZeroExit, run.Status)
	assert.False(t, run.Success())
	assert.Contains(t, run.Err, "exited with code 3")
}

func TestExecuteTimeout(t *testing.T) {
	requirePython(t)
	s := newTestSandbox(t, Config{Timeout: 1})

	start := time.Now()
	run := s.Execute(context.Background(), "while True:\n    pass")
	elapsed := time.Since(start)

	assert.Equal(t, StatusTimeout, run.Status)
	assert.Contains(t, run.Err, "timed out")
	// Returns within timeout plus a small epsilon, never hangs.
	assert.Less(t, elapsed, 5*time.Second)

	// Scratch file is cleaned up even on the timeout path.
	entries, err := os.ReadDir(s.scratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteLaunchFailure(t *testing.T) {
	s := newTestSandbox(t, Config{Interpreter: "definitely-not-a-python"})

	run := s.Execute(context.Background(), `print("unreachable")`)

	assert.Equal(t, StatusLaunchFailure, run.Status)
	assert.NotEmpty(t, run.Err)
}

func TestExecuteArtifacts(t *testing.T) {
	requirePython(t)
	s := newTestSandbox(t, Config{})

	makeChart := `with open(OUTPUT_PATH + "/chart_a.png", "wb") as f:
    f.write(b"png-bytes")`

	run := s.Execute(context.Background(), makeChart)
	require.Equal(t, StatusSuccess, run.Status)
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, "chart_a.png", run.Artifacts[0].Name)
	assert.FileExists(t, run.Artifacts[0].Path)
}

func TestExecuteClearsPreviousArtifacts(t *testing.T) {
	requirePython(t)
	s := newTestSandbox(t, Config{})

	first := s.Execute(context.Background(), `with open(OUTPUT_PATH + "/old_chart.png", "wb") as f:
    f.write(b"x")`)
	require.Equal(t, StatusSuccess, first.Status)
	require.Len(t, first.Artifacts, 1)

	// The second run produces no charts; the first run's chart must be
	// gone from its artifact list and from disk.
	second := s.Execute(context.Background(), `print("no charts here")`)
	require.Equal(t, StatusSuccess, second.Status)
	assert.Empty(t, second.Artifacts)
	assert.NoFileExists(t, filepath.Join(s.OutputDir(), "old_chart.png"))
}

func TestHarnessIndentation(t *testing.T) {
	assert.Equal(t, "    a\n\n    b", indent("a\n\nb", 4))
	assert.Equal(t, "  x", indent("x", 2))
}
