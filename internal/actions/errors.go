package actions

import (
	"errors"
	"fmt"

	"github.com/roach88/docrules/internal/ir"
)

// InternalError is an action failure with an HTTP-style status code. It is
// recorded in actionResults as {internalError: {code, message}}.
type InternalError struct {
	Code    int
	Message string
}

// Errorf creates an InternalError with a formatted message.
func Errorf(code int, format string, args ...any) *InternalError {
	return &InternalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error %d: %s", e.Code, e.Message)
}

// Value returns the result value recorded for the failure.
func (e *InternalError) Value() map[string]any {
	return map[string]any{
		"internalError": map[string]any{
			"code":    e.Code,
			"message": e.Message,
		},
	}
}

// AsInternalError recognises a result value of the form
// {internalError: {code, message}}.
func AsInternalError(v any) (*InternalError, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := m["internalError"].(map[string]any)
	if !ok {
		return nil, false
	}
	code, ok := ir.ToInt64(inner["code"])
	if !ok {
		code = 500
	}
	msg, _ := inner["message"].(string)
	return &InternalError{Code: int(code), Message: msg}, true
}

// toInternalError converts a handler error, keeping the code of an
// InternalError anywhere in the chain.
func toInternalError(err error) *InternalError {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie
	}
	return &InternalError{Code: 500, Message: err.Error()}
}
