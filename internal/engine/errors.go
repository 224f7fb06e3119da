package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a request-level failure reported by the engine, carrying the
// status code it should surface with.
type Error struct {
	Code    int
	Type    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// StatusCode implements the HTTP layer's status-carrying error contract.
func (e *Error) StatusCode() int { return e.Code }

// NewError builds an *Error, deriving Type from the status code.
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Type: TypeForStatus(code), Message: msg}
}

// TypeForStatus maps a status code to an OpenAI-style error class.
func TypeForStatus(code int) string {
	switch {
	case code == http.StatusNotFound:
		return "NotFoundError"
	case code == http.StatusTooManyRequests:
		return "RateLimitError"
	case code == http.StatusServiceUnavailable:
		return "ServiceUnavailableError"
	case code >= 400 && code < 500:
		return "BadRequestError"
	default:
		return "InternalServerError"
	}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// dependencyUnavailableError signals a missing external dependency (a
// llama.cpp binary or build) so callers can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependency-unavailable error.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing or failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}
