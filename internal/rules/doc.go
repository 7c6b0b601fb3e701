// Package rules orchestrates one rule-set evaluation: it loads settings,
// wires built-in and additional facts, expands bulk rule sets, turns rule
// definitions into executable rules whose outcomes dispatch actions, and
// runs them.
//
// Stages of a run, recorded on the Outcome:
//
//	Idle → ConfigLoaded → FactsWired → [BulkExpanded] → RulesAdded → Running → Done
//
// Rule definitions are never modified; every evaluation builds its own
// ExecutableRule values.
package rules
