// Package proc runs external tools (ffmpeg, ffprobe, the key helper) behind a
// small interface so pipeline code can be exercised with a fake in tests.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxCapture bounds how much stdout/stderr is retained per stream.
const maxCapture = 1 << 20

// Command describes one process invocation.
type Command struct {
	Binary string
	Args   []string
	Stdin  io.Reader
	Dir    string
}

// Result carries the exit code and captured output of a finished process.
// A non-zero ExitCode is not an error from Run; callers decide what it means.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec. Each child gets its own process
// group, and cancelling ctx kills the whole group so helpers spawned by the
// tool do not outlive the job.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the kill.
	WaitDelay time.Duration
}

// Run starts the command and waits for it. The error is non-nil when the
// process could not be started or ctx ended before it exited.
func (r ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Binary == "" {
		return Result{}, errors.New("proc: binary is required")
	}
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	stdout := &tailBuffer{limit: maxCapture}
	stderr := &tailBuffer{limit: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", c.Binary, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("start %s: %w", c.Binary, err)
	}
	return result, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[n-t.limit:])
		return n, nil
	}
	if over := t.buf.Len() + n - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	return append([]byte(nil), t.buf.Bytes()...)
}

// LastLine returns the final non-empty line of output, which is where tools
// like ffmpeg put the actionable error.
func LastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			return string(line)
		}
	}
	return ""
}
