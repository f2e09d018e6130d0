package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pagebuild/internal/compiler"
	"github.com/roach88/pagebuild/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Config string

	// Print writes the normalized definition as YAML after a successful
	// validation.
	Print bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid          bool                       `json:"valid"`
	Definition     string                     `json:"definition,omitempty"`
	DefinitionHash string                     `json:"definition_hash,omitempty"`
	Errors         []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a build definition without building",
		Long: `Load a build definition and check it: entry names and sources, rule
patterns, stage names and options, stage chain contracts, page templates
and exclusions, the external step and every path.

Nothing is executed and nothing is written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "build definition file (default: build.cue, build.yaml or build.yml)")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "print the normalized definition as YAML")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, err := resolveDefinition(opts.Config)
	if err != nil {
		return outputValidateError(formatter, loadErrorCode(err), err.Error(), nil)
	}
	formatter.VerboseLog("Loaded %s", loaded.Path)

	validationErrors := compiler.Validate(loaded.Definition, nil)
	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	def := loaded.Definition
	def.Normalize()
	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	return outputValidateSuccess(formatter, loaded.Path, hash, opts.Print, def)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path, hash string, print bool, def *ir.BuildDef) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Definition: path, DefinitionHash: hash})
	}

	fmt.Fprintf(formatter.Writer, "✓ %s is valid (%s)\n", path, hash[:ir.FingerprintLen])
	if print {
		return compiler.EncodeYAML(formatter.Writer, def)
	}
	return nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    ErrCodeInvalid,
				Message: errs[0].Error(),
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, err := range errs {
			fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
		}
	}

	// An invalid definition is a configuration error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: validation failed with %d error(s)", ErrCodeInvalid, len(errs)))
}
