package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docrules/internal/compiler"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/rules"
	"github.com/roach88/docrules/internal/store"
	"github.com/roach88/docrules/internal/trigger"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	RuleSet    string
	Doc        string
	Before     string
	Collection string
	Trigger    string
	Live       bool
}

// RuleReport is one evaluated rule.
type RuleReport struct {
	Name   string   `json:"name"`
	Passed bool     `json:"passed"`
	Event  ir.Event `json:"event"`
}

// EvalResult reports one eval run.
type EvalResult struct {
	RuleSet string         `json:"ruleSet"`
	Stages  []rules.Stage  `json:"stages"`
	Rules   []RuleReport   `json:"rules"`
	Actions map[string]any `json:"actions"`
	Error   string         `json:"error,omitempty"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one rule-set file against a document",
		Long: `Evaluate a rule-set file once, outside the triggers, and print which rules
passed and what their actions returned. Facts are resolved against the
configured store.

Doc rule sets get srcDoc from --doc (a JSON object with an "id"), docBefore
from --before and the trigger from --trigger. Api rule sets get the --doc
object as the request fact. Scheduled rule sets need no document.

Actions only log their params unless --live is given.

Example:
  docrules eval --ruleset rulesets/orders.json --doc order.json
  docrules eval --ruleset rulesets/orders.yaml --doc order.json --before old.json --trigger update --live`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RuleSet, "ruleset", "", "rule-set file (.json, .yaml, .cue) (required)")
	cmd.Flags().StringVar(&opts.Doc, "doc", "", "JSON document: srcDoc for doc rule sets, request for api rule sets")
	cmd.Flags().StringVar(&opts.Before, "before", "", "JSON document before the change")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection of the document (default: filters.collection)")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", string(store.ChangeCreate), "change type: create, update or delete")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "run the real actions instead of a dry run")
	_ = cmd.MarkFlagRequired("ruleset")

	return cmd
}

func runEval(opts *EvalOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	f, err := compiler.LoadFile(opts.RuleSet)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rule set", err)
	}
	rs := f.RuleSet
	if !opts.Live {
		rs.DryRun = true
	}

	in, err := opts.input(rs)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid input", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := NewApp(ctx, cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer app.Close()

	out := app.Orchestrator.Run(ctx, rs, in)
	result := evalResult(out)
	if out.Err != nil {
		_ = formatter.Error(ErrCodeRun, out.Err.Error(), result)
		return WrapExitError(ExitFailure, "rule set run failed", out.Err)
	}
	return formatter.Success(result, result.text())
}

// input builds the trigger facts for rs from the flags.
func (o *EvalOptions) input(rs ir.RuleSet) (rules.Input, error) {
	switch rs.RuleType {
	case ir.RuleTypeScheduled:
		return rules.Input{Trigger: rules.TriggerScheduled}, nil

	case ir.RuleTypeAPI:
		req := map[string]any{}
		if o.Doc != "" {
			var err error
			if req, err = readJSONObject(o.Doc); err != nil {
				return rules.Input{}, err
			}
		}
		return rules.Input{Trigger: rules.TriggerAPI, Facts: map[string]any{"request": req}}, nil

	case ir.RuleTypeDoc:
		change := store.Change{Type: store.ChangeType(o.Trigger), Collection: o.Collection}
		if change.Collection == "" {
			change.Collection = rs.Filters.Collection
		}
		switch change.Type {
		case store.ChangeCreate, store.ChangeUpdate, store.ChangeDelete:
		default:
			return rules.Input{}, fmt.Errorf("--trigger must be create, update or delete, got %q", o.Trigger)
		}

		doc, err := o.document(o.Doc, change.Collection)
		if err != nil {
			return rules.Input{}, err
		}
		before, err := o.document(o.Before, change.Collection)
		if err != nil {
			return rules.Input{}, err
		}
		if change.Type == store.ChangeDelete && before == nil {
			before = doc
		}
		change.Doc, change.Before = doc, before
		if doc != nil {
			change.ID = doc.ID
		}
		return rules.Input{Trigger: rules.TriggerDoc, Facts: trigger.DocFacts(change)}, nil
	}
	return rules.Input{}, fmt.Errorf("rule type %q cannot be evaluated", rs.RuleType)
}

func (o *EvalOptions) document(path, collection string) (*ir.Document, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readJSONObject(path)
	if err != nil {
		return nil, err
	}
	id, _ := ir.FormatID(data["id"])
	delete(data, "id")
	return &ir.Document{Collection: collection, ID: id, Data: data}, nil
}

func readJSONObject(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%s: expected a JSON object", path)
	}
	return m, nil
}

func evalResult(out *rules.Outcome) EvalResult {
	r := EvalResult{
		RuleSet: out.RuleSet,
		Stages:  out.Stages,
		Rules:   []RuleReport{},
		Actions: out.ActionResults,
	}
	for _, res := range out.Results {
		r.Rules = append(r.Rules, RuleReport{Name: res.Name, Passed: res.Result, Event: res.Event})
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	return r
}

func (r EvalResult) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule set %s\n", r.RuleSet)
	for _, rule := range r.Rules {
		mark := "✗"
		if rule.Passed {
			mark = "✓"
		}
		fmt.Fprintf(&b, "  %s %s (%s)\n", mark, rule.Name, rule.Event.Type)
	}
	if len(r.Actions) > 0 {
		actions, _ := json.MarshalIndent(r.Actions, "  ", "  ")
		fmt.Fprintf(&b, "  actions: %s\n", actions)
	}
	return strings.TrimRight(b.String(), "\n")
}
