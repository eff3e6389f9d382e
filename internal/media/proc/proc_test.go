package proc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/media/proc"
)

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	r := proc.ExecRunner{}
	res, err := r.Run(context.Background(), proc.Command{
		Binary: "sh",
		Args:   []string{"-c", "read line; echo out:$line; echo oops >&2; exit 3"},
		Stdin:  strings.NewReader("hello\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out:hello", strings.TrimSpace(string(res.Stdout)))
	assert.Equal(t, "oops", proc.LastLine(res.Stderr))
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := proc.ExecRunner{}.Run(context.Background(), proc.Command{Binary: "definitely-not-a-real-binary-xyz"})
	require.Error(t, err)
}

func TestExecRunnerCancelKillsProcessGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := proc.ExecRunner{WaitDelay: time.Second}.Run(ctx, proc.Command{
		Binary: "sh",
		Args:   []string{"-c", "sleep 30 & sleep 30; wait"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "", proc.LastLine(nil))
	assert.Equal(t, "b", proc.LastLine([]byte("a\nb\n\n  \n")))
}
