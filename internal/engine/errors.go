package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while evaluating rules.
//
// Runtime errors include:
//   - Undefined fact: a condition or action asked for a fact nobody registered
//   - Unknown operator: a condition leaf names an operator that is not installed
//   - Invalid condition: a condition node is neither all/any/not nor a leaf
//   - Fact resolution: a dynamic fact's calculation failed
//   - Fact cycle: a dynamic fact's calculation needs its own value
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Rule names the rule being evaluated, when known.
	Rule string

	// Fact names the fact involved, when known.
	Fact string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUndefinedFact indicates a fact was requested that is not registered.
	ErrCodeUndefinedFact RuntimeErrorCode = "UNDEFINED_FACT"

	// ErrCodeUnknownOperator indicates a condition uses an operator that is not installed.
	ErrCodeUnknownOperator RuntimeErrorCode = "UNKNOWN_OPERATOR"

	// ErrCodeInvalidCondition indicates a malformed condition tree.
	ErrCodeInvalidCondition RuntimeErrorCode = "INVALID_CONDITION"

	// ErrCodeFactResolution indicates a dynamic fact returned an error.
	ErrCodeFactResolution RuntimeErrorCode = "FACT_RESOLUTION"

	// ErrCodeFactCycle indicates a dynamic fact depends on itself.
	ErrCodeFactCycle RuntimeErrorCode = "FACT_CYCLE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule=%s)", e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUndefinedFact returns true if the error is an undefined fact error.
// Uses errors.As to handle wrapped errors.
func IsUndefinedFact(err error) bool {
	return hasCode(err, ErrCodeUndefinedFact)
}

// IsUnknownOperator returns true if the error is an unknown operator error.
func IsUnknownOperator(err error) bool {
	return hasCode(err, ErrCodeUnknownOperator)
}

// IsInvalidCondition returns true if the error is a malformed condition error.
func IsInvalidCondition(err error) bool {
	return hasCode(err, ErrCodeInvalidCondition)
}

// IsFactResolution returns true if the error came from a failing fact calculation.
func IsFactResolution(err error) bool {
	return hasCode(err, ErrCodeFactResolution)
}

// IsFactCycle returns true if err, or any error it wraps, is a fact cycle.
func IsFactCycle(err error) bool {
	for err != nil {
		var re *RuntimeError
		if !errors.As(err, &re) {
			return false
		}
		if re.Code == ErrCodeFactCycle {
			return true
		}
		err = re.Err
	}
	return false
}

func newFactCycleError(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeFactCycle,
		Message: fmt.Sprintf("fact %s depends on itself", name),
		Fact:    name,
	}
}

func newUndefinedFactError(name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUndefinedFact,
		Message: fmt.Sprintf("undefined fact: %s", name),
		Fact:    name,
	}
}

func newUnknownOperatorError(rule, op string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownOperator,
		Message: fmt.Sprintf("unknown operator: %s", op),
		Rule:    rule,
	}
}

func newInvalidConditionError(rule, msg string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidCondition,
		Message: msg,
		Rule:    rule,
	}
}
