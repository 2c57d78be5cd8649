package domain

import (
	"errors"
	"fmt"
)

// Typed command results. Handlers map these onto HTTP statuses; the engine
// never collapses one into a bare bool or generic error.

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func Invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }

// ConflictError means a precondition lost a race or the entity is past the
// required status. Callers should re-query and retry from fresh state.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Msg }

func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func NotFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return "not allowed: " + e.Msg }

func Unauthorized(msg string) error { return &AuthorizationError{Msg: msg} }

// TransientError wraps persistence/notification unavailability. Safe to
// retry for reads; writes retry only under the same idempotency key.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error { return &TransientError{Op: op, Err: err} }

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
