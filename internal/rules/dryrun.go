package rules

import (
	"log/slog"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/ir"
)

// ApplyDryRun returns rs with every outcome's actions replaced by a single
// exampleAction carrying the params of the last configured action. A rule
// set without dryRun is returned unchanged. rs is not modified.
func ApplyDryRun(rs ir.RuleSet) ir.RuleSet {
	if !rs.DryRun {
		return rs
	}
	out := rs
	out.Rules = make([]ir.RuleDef, len(rs.Rules))
	for i, r := range rs.Rules {
		r.OnSuccess.Actions = dryActions(r.OnSuccess.Actions)
		r.OnFailure.Actions = dryActions(r.OnFailure.Actions)
		out.Rules[i] = r
	}
	return out
}

func dryActions(a ir.Actions) ir.Actions {
	if len(a) == 0 {
		return a
	}
	last := a[len(a)-1]
	return ir.Actions{{Name: actions.ExampleAction, Params: ir.CloneMap(last.Params)}}
}

func logDryRun(logger *slog.Logger, rs ir.RuleSet) {
	if rs.DryRun {
		logger.Info("*** Dry Run ***", "ruleSet", Label(rs))
	}
}
