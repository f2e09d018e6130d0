package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/pagebuild/internal/bundle"
	"github.com/roach88/pagebuild/internal/page"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/publish"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Build failure (toolchain, stage, template, write)
	ExitCommandError = 2 // Command error (bad flags, unreadable or invalid definition)
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNoDefinition = "E003" // No build definition found
	ErrCodeLoadFailed   = "E004" // Definition could not be parsed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeInvalid      = "E006" // Definition failed validation
	ErrCodeWriteFailed  = "E007" // Publish path write error
	ErrCodeDatabase     = "E008" // History database error

	ErrCodeToolchain        = "E010" // External toolchain failed
	ErrCodeStage            = "E011" // A transform stage failed
	ErrCodeTemplateNotFound = "E012" // Page template missing
	ErrCodeUnresolvedEntry  = "E013" // Page references an unknown entry
	ErrCodeChainContract    = "E014" // Adjacent stages disagree on artifact kind
	ErrCodeBundle           = "E015" // Entry could not be bundled
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ClassifyBuildError maps a build error to an error code. Every build
// error is a build failure (exit 1) except a broken chain contract, which
// is a definition problem.
func ClassifyBuildError(err error) (code string, exit int) {
	var (
		chainErr    *pipeline.ChainContractError
		toolErr     *pipeline.ExternalToolchainError
		stageErr    *pipeline.StageError
		templateErr *page.TemplateNotFoundError
		entryErr    *page.UnresolvedEntryPointError
		bundleErr   *bundle.Error
		writeErr    *publish.WriteError
	)
	switch {
	case errors.As(err, &chainErr):
		return ErrCodeChainContract, ExitCommandError
	case errors.As(err, &toolErr):
		return ErrCodeToolchain, ExitFailure
	case errors.As(err, &stageErr):
		return ErrCodeStage, ExitFailure
	case errors.As(err, &templateErr):
		return ErrCodeTemplateNotFound, ExitFailure
	case errors.As(err, &entryErr):
		return ErrCodeUnresolvedEntry, ExitFailure
	case errors.As(err, &bundleErr):
		return ErrCodeBundle, ExitFailure
	case errors.As(err, &writeErr):
		return ErrCodeWriteFailed, ExitFailure
	default:
		return ErrCodeGeneric, ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
