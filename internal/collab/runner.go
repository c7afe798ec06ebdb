package collab

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// maxDiagnosticOutput bounds how much combined output a ScriptError carries.
// FFmpeg in particular can emit megabytes of frame logs on failure.
const maxDiagnosticOutput = 2000

// Runner invokes external commands (ffmpeg, TTS CLIs) and converts failures
// into ScriptErrors carrying the exit code and truncated output.
type Runner struct{}

// NewRunner creates a command runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes a command, capturing combined output. On failure it returns
// a *ScriptError; the command's own exit code is preserved (124 for
// timeout-wrapped commands).
func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &ScriptError{
		Command:  name,
		ExitCode: exitCode,
		Output:   truncateOutput(buf.String()),
	}
}

// truncateOutput keeps the tail of the output, where ffmpeg and most CLIs
// put the actual error message.
func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDiagnosticOutput {
		return s
	}
	return "..." + s[len(s)-maxDiagnosticOutput:]
}
