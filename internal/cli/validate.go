package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/compiler"
)

// Load error codes (E001-E009)
const (
	ErrCodeGeneric  = "E001" // generic load error
	ErrCodeNoFiles  = "E003" // no rule-set files found
	ErrCodeNotFound = "E005" // directory not found
	ErrCodeRun      = "E010" // rule-set run failed
)

// FileReport is the validation result of one rule-set file.
type FileReport struct {
	Path   string                     `json:"path"`
	ID     string                     `json:"id,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Files []FileReport `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rulesets-dir>",
		Short: "Validate rule-set files",
		Long: `Validate .json, .yaml and .cue rule-set files without touching a store.

Each file is checked against the rule-set schema, then for problems a run
would only hit at evaluation time: missing trigger filters, bad cron
expressions, fact definitions of no known shape, bad query filters, unknown
condition operators and unknown action names.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	result, files, err := validateDir(dir, formatter)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Checked %d rule-set file(s) in %s", len(files), dir)

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return formatter.Success(result, "✓ All rule sets valid")
}

// validateDir loads and validates every rule-set file in dir. Command-level
// problems come back as an ExitError; per-file problems are in the result.
func validateDir(dir string, formatter *OutputFormatter) (ValidationResult, []compiler.File, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		msg := fmt.Sprintf("directory not found: %s", dir)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return ValidationResult{}, nil, NewExitError(ExitCommandError, ErrCodeNotFound+": "+msg)
	}
	paths, err := compiler.FindFiles(dir)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return ValidationResult{}, nil, WrapExitError(ExitCommandError, ErrCodeGeneric, err)
	}
	if len(paths) == 0 {
		msg := fmt.Sprintf("no rule-set files found in %s", dir)
		_ = formatter.Error(ErrCodeNoFiles, msg, nil)
		return ValidationResult{}, nil, NewExitError(ExitCommandError, ErrCodeNoFiles+": "+msg)
	}

	result := ValidationResult{Valid: true}
	var files []compiler.File
	for _, p := range paths {
		formatter.VerboseLog("Validating %s", p)
		report := FileReport{Path: p}

		f, err := compiler.LoadFile(p)
		if err != nil {
			report.Errors = []compiler.ValidationError{loadValidationError(err)}
		} else {
			report.ID = f.ID
			report.Errors = compiler.ValidateRuleSet(f.RuleSet, compiler.WithActions(actions.BuiltinNames()))
			if len(report.Errors) == 0 {
				files = append(files, f)
			}
		}
		if len(report.Errors) > 0 {
			result.Valid = false
		}
		result.Files = append(result.Files, report)
	}
	return result, files, nil
}

func loadValidationError(err error) compiler.ValidationError {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		line := 0
		if ce.Pos.IsValid() {
			line = ce.Pos.Line()
		}
		return compiler.ValidationError{Field: ce.Field, Message: ce.Message, Code: compiler.ErrSchema, Line: line}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: ErrCodeGeneric}
}

// outputValidationErrors writes the failing files and returns the exit
// error for a validation failure.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	count := 0
	var first compiler.ValidationError
	for _, f := range result.Files {
		for _, e := range f.Errors {
			if count == 0 {
				first = e
			}
			count++
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Error(first.Code, first.Message, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, f := range result.Files {
		if len(f.Errors) == 0 {
			continue
		}
		fmt.Fprintln(formatter.Writer, f.Path)
		for _, e := range f.Errors {
			if e.Line > 0 {
				fmt.Fprintf(formatter.Writer, "  line %d\n", e.Line)
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
		fmt.Fprintln(formatter.Writer)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
}
