// Package engine evaluates rules against facts.
//
// An Engine holds registered facts, operators and rules. Run creates an
// Almanac (the per-run fact cache), evaluates each rule's condition tree and
// calls the rule's success or failure callback immediately after its
// evaluation.
//
// Evaluation order:
//   - Rules run in descending Priority; equal priorities keep the order
//     they were added in.
//   - Within a condition tree every child is evaluated, so each leaf's
//     fact value, compare value and result are available in the
//     ConditionResult for logging.
//
// Facts:
//   - A fact is resolved at most once per run for given params, no matter
//     how many rules or actions read it.
//   - Undefined facts and failing fact calculations read as nil inside
//     conditions; they are logged, not returned.
package engine
