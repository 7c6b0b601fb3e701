package queryir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/docrules/internal/ir"
)

// ValidationError describes one problem with a query.
type ValidationError struct {
	Step    int // index into Query.Steps, -1 for the query itself
	Message string
}

func (e ValidationError) Error() string {
	if e.Step < 0 {
		return e.Message
	}
	return fmt.Sprintf("step %d: %s", e.Step, e.Message)
}

// Validate checks that a query can be compiled by every backend. It returns
// all problems found joined into one error, or nil.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	if strings.TrimSpace(q.Collection) == "" {
		v.add(-1, "collection is required")
	}
	for i, s := range q.Steps {
		v.validateStep(i, s)
	}
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) add(step int, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Step: step, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validateStep(i int, s Step) {
	switch step := s.(type) {
	case Where:
		if step.Path == "" {
			v.add(i, "where requires a path")
		}
		if !step.Op.Valid() {
			v.add(i, "unsupported operator %q", step.Op)
			return
		}
		if step.Op.TakesList() {
			list, ok := step.Value.([]any)
			if !ok {
				v.add(i, "operator %q requires a list value, got %T", step.Op, step.Value)
			} else if len(list) == 0 {
				v.add(i, "operator %q requires a non-empty list", step.Op)
			}
			return
		}
		switch step.Value.(type) {
		case map[string]any:
			if _, ok := ir.AsTimestamp(step.Value); !ok || step.Op == OpArrayContains {
				v.add(i, "operator %q cannot compare against an object", step.Op)
			}
		case []any:
			v.add(i, "operator %q cannot compare against a list", step.Op)
		}
	case OrderBy:
		if step.Path == "" {
			v.add(i, "order requires a path")
		}
		if step.Direction != Asc && step.Direction != Desc {
			v.add(i, "invalid direction %q", step.Direction)
		}
	case Limit:
		if step.N <= 0 {
			v.add(i, "limit must be positive, got %d", step.N)
		}
	case nil:
		v.add(i, "nil step")
	default:
		v.add(i, "unknown step type %T", s)
	}
}
