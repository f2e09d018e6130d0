package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// StageError reports a stage failing on one asset. Only that asset's chain
// is aborted.
type StageError struct {
	// Stage is the failing stage name.
	Stage string

	// Path is the asset the chain was running for.
	Path string

	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed on %s: %v", e.Stage, e.Path, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// ChainContractError reports adjacent stages whose kinds do not line up.
// It is raised while constructing a rule table, never per asset.
type ChainContractError struct {
	Rule  string
	Index int
	Prev  string
	Next  string
	Want  Kind
	Got   Kind
}

func (e *ChainContractError) Error() string {
	return fmt.Sprintf("rule %s: stage %d %q expects %s input but %q produces %s",
		e.Rule, e.Index, e.Next, e.Want, e.Prev, e.Got)
}

// ExternalToolchainError reports a failed external toolchain invocation.
// ExitCode is -1 when the process could not be started or was killed.
type ExternalToolchainError struct {
	ExitCode int
	Command  []string
	Stderr   string
	Message  string
	Err      error
}

func (e *ExternalToolchainError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("exited with status %d", e.ExitCode)
	}
	s := fmt.Sprintf("external toolchain %q %s", strings.Join(e.Command, " "), msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ExternalToolchainError) Unwrap() error {
	return e.Err
}

// IsStageError returns true if err wraps a StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// IsExternalToolchainError returns true if err wraps an ExternalToolchainError.
func IsExternalToolchainError(err error) bool {
	var te *ExternalToolchainError
	return errors.As(err, &te)
}
