package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagebuild/internal/ir"
)

func TestCommandToolchainSuccess(t *testing.T) {
	root := t.TempDir()
	step := ir.ExternalBuildStep{
		Command: []string{"sh", "-c", "echo built > out.js && echo done"},
	}

	status, err := RunExternalBuild(context.Background(), CommandToolchain{}, step, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, "done\n", status.Stdout)

	data, err := os.ReadFile(filepath.Join(root, "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(data))
}

func TestCommandToolchainNonZeroExit(t *testing.T) {
	step := ir.ExternalBuildStep{Command: []string{"sh", "-c", "echo nope >&2; exit 2"}}

	status, err := RunExternalBuild(context.Background(), CommandToolchain{}, step, t.TempDir(), nil)
	require.Error(t, err)
	assert.Equal(t, 2, status.Code)

	var te *ExternalToolchainError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.ExitCode)
	assert.Equal(t, "nope\n", te.Stderr)
	assert.Contains(t, err.Error(), "exited with status 2")
	assert.True(t, IsExternalToolchainError(err))
}

func TestCommandToolchainMissingBinary(t *testing.T) {
	step := ir.ExternalBuildStep{Command: []string{"definitely-not-a-real-toolchain-binary"}}

	_, err := RunExternalBuild(context.Background(), CommandToolchain{}, step, t.TempDir(), nil)
	require.Error(t, err)

	var te *ExternalToolchainError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, -1, te.ExitCode)
	assert.Contains(t, err.Error(), "could not be run")
}

func TestCommandToolchainTimeout(t *testing.T) {
	step := ir.ExternalBuildStep{
		Command: []string{"sleep", "5"},
		Timeout: 50 * time.Millisecond,
	}

	start := time.Now()
	_, err := RunExternalBuild(context.Background(), CommandToolchain{}, step, t.TempDir(), nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var te *ExternalToolchainError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, -1, te.ExitCode)
	assert.Contains(t, err.Error(), "timed out")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandToolchainWorkingDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "game"), 0o755))

	step := ir.ExternalBuildStep{
		Command: []string{"sh", "-c", "pwd"},
		Dir:     "game",
	}
	status, err := RunExternalBuild(context.Background(), CommandToolchain{}, step, root, nil)
	require.NoError(t, err)
	assert.Contains(t, status.Stdout, "game")
}

type countingToolchain struct {
	calls int
	code  int
}

func (c *countingToolchain) Run(context.Context, ir.ExternalBuildStep, string) (ExitStatus, error) {
	c.calls++
	return ExitStatus{Code: c.code}, nil
}

func TestRunExternalBuildInvokesOnce(t *testing.T) {
	tc := &countingToolchain{}
	_, err := RunExternalBuild(context.Background(), tc, ir.ExternalBuildStep{Command: []string{"x"}}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.calls)
}
