package rules

import (
	"errors"

	"github.com/roach88/docrules/internal/ir"
)

// ConfigError reports a rule set that cannot run as written.
type ConfigError = ir.ConfigError

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	return ir.IsConfigError(err)
}

// ErrNoRulesMatch is returned when a trigger that needs a rule set finds
// none.
var ErrNoRulesMatch = errors.New("no rules match")
