package ir

import (
	"errors"
	"fmt"
)

// ConfigError reports a rule set that cannot be run as written: a missing
// required field, an invalid filter, an ambiguous api match.
type ConfigError struct {
	// RuleSet is the rule set id or title, when known.
	RuleSet string

	// Field locates the problem, e.g. "additionalFacts.users.query[1]".
	Field string

	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.RuleSet != "" && e.Field != "":
		return fmt.Sprintf("rule set %q: %s: %s", e.RuleSet, e.Field, e.Message)
	case e.RuleSet != "":
		return fmt.Sprintf("rule set %q: %s", e.RuleSet, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
