package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/roach88/pagebuild/internal/ir"
)

// ExitStatus is the observed outcome of the external toolchain process.
type ExitStatus struct {
	Code     int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Toolchain runs an external build step.
type Toolchain interface {
	Run(ctx context.Context, step ir.ExternalBuildStep, root string) (ExitStatus, error)
}

// CommandToolchain runs the step as a subprocess with captured output.
type CommandToolchain struct{}

// Run starts the process and waits for it to exit. A non-zero exit is
// reported through ExitStatus.Code with a nil error; err is non-nil only
// when the process could not be run to completion.
func (CommandToolchain) Run(ctx context.Context, step ir.ExternalBuildStep, root string) (ExitStatus, error) {
	if len(step.Command) == 0 {
		return ExitStatus{Code: -1}, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = filepath.Join(root, filepath.FromSlash(step.Dir))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	status := ExitStatus{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		status.Code = 0
	case ctx.Err() != nil:
		status.Code = -1
		return status, ctx.Err()
	case errors.As(err, &exitErr):
		status.Code = exitErr.ExitCode()
	default:
		status.Code = -1
		return status, err
	}
	return status, nil
}

// RunExternalBuild invokes the toolchain exactly once and blocks until it
// exits. Any outcome other than a zero exit is an *ExternalToolchainError.
func RunExternalBuild(ctx context.Context, tc Toolchain, step ir.ExternalBuildStep, root string, logger *slog.Logger) (ExitStatus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	logger.Info("running external toolchain", "command", step.Command, "dir", step.Dir)
	status, err := tc.Run(ctx, step, root)
	if status.Stdout != "" {
		logger.Debug("external toolchain stdout", "output", status.Stdout)
	}
	if status.Stderr != "" {
		logger.Debug("external toolchain stderr", "output", status.Stderr)
	}

	if err != nil {
		msg := "could not be run"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", step.Timeout)
		}
		return status, &ExternalToolchainError{
			ExitCode: -1,
			Command:  step.Command,
			Stderr:   status.Stderr,
			Message:  msg,
			Err:      err,
		}
	}
	if status.Code != 0 {
		return status, &ExternalToolchainError{
			ExitCode: status.Code,
			Command:  step.Command,
			Stderr:   status.Stderr,
		}
	}

	logger.Info("external toolchain finished", "duration", status.Duration)
	return status, nil
}
