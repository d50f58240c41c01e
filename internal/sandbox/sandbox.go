// Package sandbox executes LLM-generated Python in an isolated subprocess.
//
// Isolation here means crash and timeout containment, not security: the
// child process shares the host's filesystem and network. Each run wraps
// the supplied code in a harness that pins the working directory, forces a
// non-interactive matplotlib backend, and converts uncaught exceptions into
// printed tracebacks so the parent process never sees a hard crash.
//
// A sandbox is not re-entrant. Execute clears the shared output directory
// before every run, so concurrent requests must each use their own
// instance.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status classifies the outcome of one sandbox run.
type Status string

const (
	// StatusSuccess means the script ran to completion with exit code 0.
	StatusSuccess Status = "success"
	// StatusNonZeroExit means the script started but exited non-zero.
	StatusNonZeroExit Status = "nonzero-exit"
	// StatusTimeout means the script exceeded the wall-clock budget and
	// was killed.
	StatusTimeout Status = "timeout"
	// StatusLaunchFailure means the subprocess could not be started at
	// all, e.g. the interpreter binary is missing.
	StatusLaunchFailure Status = "launch-failure"
)

// DefaultTimeout is the wall-clock budget for one run.
const DefaultTimeout = 120 * time.Second

const defaultInterpreter = "python3"

// Artifact is a file produced by a run in the shared output directory.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Run is the result of one Execute call.
type Run struct {
	Status Status `json:"status"`
	// Output is the combined stdout and stderr of the child process.
	Output    string        `json:"output"`
	Artifacts []Artifact    `json:"artifacts"`
	Err       string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Success reports whether the run completed with exit code 0.
func (r *Run) Success() bool {
	return r.Status == StatusSuccess
}

// Config holds sandbox configuration.
type Config struct {
	// OutputDir is the shared directory generated code writes charts to.
	OutputDir string `koanf:"output_dir"`
	// WorkDir is the working directory for the child process. Defaults to
	// the daemon's working directory.
	WorkDir string `koanf:"work_dir"`
	// Interpreter is the Python binary to launch. Defaults to python3.
	Interpreter string `koanf:"interpreter"`
	// Timeout is the wall-clock budget in seconds. Defaults to 120.
	Timeout int `koanf:"timeout"`
}

// Sandbox runs generated source strings in child processes.
type Sandbox struct {
	scratchDir  string
	outputDir   string
	workDir     string
	interpreter string
	timeout     time.Duration
	logger      *zap.Logger
}

// New allocates a private scratch directory and ensures the shared output
// directory exists.
func New(cfg Config, logger *zap.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "output"
	}
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}
	if err := os.MkdirAll(absOutput, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working dir: %w", err)
		}
	}

	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = defaultInterpreter
	}

	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	scratchDir, err := os.MkdirTemp("", "analystd_sandbox_")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	return &Sandbox{
		scratchDir:  scratchDir,
		outputDir:   absOutput,
		workDir:     workDir,
		interpreter: interpreter,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// OutputDir returns the shared artifact directory.
func (s *Sandbox) OutputDir() string {
	return s.outputDir
}

// Execute runs code in a child process and returns its result. Script
// failures are reported through Run.Status, never as a panic or a hung
// caller: the run either finishes or is killed at the timeout.
func (s *Sandbox) Execute(ctx context.Context, code string) *Run {
	start := time.Now()

	// Mandatory pre-run clear: a crashed prior run must not leak stale
	// charts into this one.
	s.clearArtifacts()

	scriptPath := filepath.Join(s.scratchDir, fmt.Sprintf("analysis_%s.py", uuid.NewString()))
	if err := os.WriteFile(scriptPath, []byte(s.harness(code)), 0o600); err != nil {
		return &Run{
			Status:   StatusLaunchFailure,
			Err:      fmt.Sprintf("failed to write script: %v", err),
			Duration: time.Since(start),
		}
	}
	defer func() {
		if err := os.Remove(scriptPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove scratch script", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.interpreter, scriptPath)
	cmd.Dir = s.workDir
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Env = append(os.Environ(), "MPLBACKEND=Agg")

	err := cmd.Run()
	duration := time.Since(start)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		// CommandContext killed the child; nothing is left running.
		s.logger.Warn("sandbox run timed out",
			zap.Duration("timeout", s.timeout),
			zap.Duration("duration", duration))
		return &Run{
			Status:   StatusTimeout,
			Output:   output.String(),
			Err:      fmt.Sprintf("code execution timed out (exceeded %s)", s.timeout),
			Duration: duration,
		}

	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Debug("sandbox script exited non-zero",
				zap.Int("exit_code", exitErr.ExitCode()))
			return &Run{
				Status:    StatusNonZeroExit,
				Output:    output.String(),
				Artifacts: s.collectArtifacts(),
				Err:       fmt.Sprintf("script exited with code %d", exitErr.ExitCode()),
				Duration:  duration,
			}
		}
		// Start itself failed: missing interpreter, permissions, etc.
		s.logger.Error("sandbox launch failed", zap.Error(err))
		return &Run{
			Status:   StatusLaunchFailure,
			Output:   output.String(),
			Err:      fmt.Sprintf("failed to execute code - %v", err),
			Duration: duration,
		}
	}

	return &Run{
		Status:    StatusSuccess,
		Output:    output.String(),
		Artifacts: s.collectArtifacts(),
		Duration:  duration,
	}
}

// Close recursively removes the private scratch directory. Safe to call
// more than once; cleanup failures are logged, never raised.
func (s *Sandbox) Close() {
	if s.scratchDir == "" {
		return
	}
	if err := os.RemoveAll(s.scratchDir); err != nil {
		s.logger.Warn("failed to remove scratch dir", zap.Error(err))
	}
	s.scratchDir = ""
}

// clearArtifacts removes chart files from the shared output directory. A
// failed cleanup is logged but does not block the run.
func (s *Sandbox) clearArtifacts() {
	charts, err := filepath.Glob(filepath.Join(s.outputDir, "*.png"))
	if err != nil {
		s.logger.Warn("failed to enumerate previous charts", zap.Error(err))
		return
	}
	for _, chart := range charts {
		if err := os.Remove(chart); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove previous chart",
				zap.String("path", chart), zap.Error(err))
		}
	}
}

// collectArtifacts enumerates every regular file in the output directory.
func (s *Sandbox) collectArtifacts() []Artifact {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		s.logger.Warn("failed to enumerate artifacts", zap.Error(err))
		return nil
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Name: entry.Name(),
			Path: filepath.Join(s.outputDir, entry.Name()),
		})
	}
	return artifacts
}

// harness wraps user code so it runs non-interactively and reports errors
// as printed tracebacks instead of crashing the child with a traceback the
// orchestrator would have to parse.
func (s *Sandbox) harness(code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `import sys
import os
import warnings
warnings.filterwarnings('ignore')

sys.path.append(r'%s')
os.chdir(r'%s')

# Non-interactive backend: charts go to files, never to a display.
os.environ.setdefault('MPLBACKEND', 'Agg')

OUTPUT_PATH = r"%s"
os.makedirs(OUTPUT_PATH, exist_ok=True)

try:
%s

    # Save any figures the analysis left open.
    if 'matplotlib' in sys.modules:
        import matplotlib.pyplot as plt
        if plt.get_fignums():
            plt.savefig(os.path.join(OUTPUT_PATH, 'analysis_chart.png'), dpi=300, bbox_inches='tight')
            plt.close('all')

except Exception as e:
    print(f"Analysis Error: {str(e)}")
    import traceback
    traceback.print_exc()
`, s.workDir, s.workDir, s.outputDir, indent(code, 4))
	return b.String()
}

// indent prefixes every non-blank line of code with the given number of
// spaces, so the body nests inside the harness try block.
func indent(code string, spaces int) string {
	prefix := strings.Repeat(" ", spaces)
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
