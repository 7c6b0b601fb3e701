package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrules/internal/rules"
	"github.com/roach88/docrules/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DryRun bool
}

// ImportResult lists the rule sets written.
type ImportResult struct {
	Imported []string `json:"imported"`
	DryRun   bool     `json:"dryRun,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <rulesets-dir>",
		Short: "Validate rule-set files and store them",
		Long: `Validate every rule-set file in a directory and write it to the rulesets
collection. The document id is the file name without its extension; an
existing rule set with that id is replaced. Nothing is written unless every
file is valid.

Example:
  docrules import --db ./docrules.db ./rulesets`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate only, write nothing")

	return cmd
}

func runImport(opts *ImportOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	result, files, err := validateDir(dir, formatter)
	if err != nil {
		return err
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	out := ImportResult{DryRun: opts.DryRun}
	for _, f := range files {
		out.Imported = append(out.Imported, f.ID)
	}
	if opts.DryRun {
		return formatter.Success(out, fmt.Sprintf("✓ %d rule set(s) valid, nothing written", len(files)))
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, f := range files {
		if err := st.SetDocJSON(ctx, rules.RuleSetsCollection, f.ID, f.JSON); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to import %s", f.Path), err)
		}
		formatter.VerboseLog("Imported %s as %s/%s", f.Path, rules.RuleSetsCollection, f.ID)
	}
	return formatter.Success(out, fmt.Sprintf("✓ Imported %d rule set(s)", len(files)))
}
