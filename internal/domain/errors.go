// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is not in the state the operation requires.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates malformed or out-of-range input.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates missing or invalid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrAgentInactive indicates the agent has been deactivated.
var ErrAgentInactive = errors.New("agent is not active")

// ErrSpendingLimitExceeded indicates a budget authorization was refused.
var ErrSpendingLimitExceeded = errors.New("spending limit exceeded")

// ErrExecutionFailed indicates the task pipeline itself failed.
var ErrExecutionFailed = errors.New("task execution failed")

// ErrOracle indicates the decision oracle was unavailable or returned output
// that did not satisfy the expected schema.
var ErrOracle = errors.New("oracle error")

// publicError is an error whose message is safe to show to API callers.
type publicError struct {
	msg  string
	kind error
}

func (e *publicError) Error() string { return e.msg }
func (e *publicError) Unwrap() error { return e.kind }

// Errorf returns an error of the given kind (one of the sentinels above)
// whose formatted message is shown to callers verbatim.
func Errorf(kind error, format string, args ...any) error {
	return &publicError{msg: fmt.Sprintf(format, args...), kind: kind}
}

// PublicMessage returns the caller-facing message carried by err, if any.
func PublicMessage(err error) (string, bool) {
	var pe *publicError
	if errors.As(err, &pe) {
		return pe.msg, true
	}
	return "", false
}
