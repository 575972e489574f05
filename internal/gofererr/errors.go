// Package gofererr is the project-wide error taxonomy. Every collaborator
// (storage, scheduler, orchestrator, httpapi) wraps failures in one of these
// kinds so callers can branch with errors.Is/errors.As instead of string
// matching.
package gofererr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrNotFound) or use
// the typed errors below when extra context (entity, id, query) is useful.
var (
	ErrNotFound           = errors.New("not found")
	ErrExists             = errors.New("already exists")
	ErrNoFieldsUpdated    = errors.New("no fields updated")
	ErrConnection         = errors.New("connection error")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrSchedulerError     = errors.New("scheduler error")
	ErrAbnormalExit       = errors.New("abnormal exit")
	ErrCancelled          = errors.New("cancelled")
	ErrOrphaned           = errors.New("orphaned")
	ErrInternal           = errors.New("internal error")
)

// NotFoundError carries which entity/key was missing.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Entity, e.Key, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// ExistsError carries which entity/key conflicted on a unique constraint.
type ExistsError struct {
	Entity string
	Key    string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Entity, e.Key, ErrExists)
}

func (e *ExistsError) Unwrap() error { return ErrExists }

func NewExists(entity, key string) error {
	return &ExistsError{Entity: entity, Key: key}
}

// FailedPreconditionError carries a human-readable reason.
type FailedPreconditionError struct {
	Reason string
}

func (e *FailedPreconditionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrFailedPrecondition, e.Reason)
}

func (e *FailedPreconditionError) Unwrap() error { return ErrFailedPrecondition }

func NewFailedPrecondition(reason string) error {
	return &FailedPreconditionError{Reason: reason}
}

// InternalError carries a code, message, and optional offending query for
// observability without leaking internals to API responses.
type InternalError struct {
	Code    string
	Message string
	Query   string
}

func (e *InternalError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("internal error [%s]: %s (query: %s)", e.Code, e.Message, e.Query)
	}
	return fmt.Sprintf("internal error [%s]: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error { return ErrInternal }

func NewInternal(code, message, query string) error {
	return &InternalError{Code: code, Message: message, Query: query}
}

// SchedulerError wraps a scheduler-originated failure.
type SchedulerError struct {
	Op      string
	Message string
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler %s: %s", e.Op, e.Message)
}

func (e *SchedulerError) Unwrap() error { return ErrSchedulerError }

func NewSchedulerError(op, message string) error {
	return &SchedulerError{Op: op, Message: message}
}

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsExists(err error) bool             { return errors.Is(err, ErrExists) }
func IsNoFieldsUpdated(err error) bool     { return errors.Is(err, ErrNoFieldsUpdated) }
func IsFailedPrecondition(err error) bool { return errors.Is(err, ErrFailedPrecondition) }
func IsSchedulerError(err error) bool     { return errors.Is(err, ErrSchedulerError) }
func IsConnection(err error) bool         { return errors.Is(err, ErrConnection) }
func IsInternal(err error) bool           { return errors.Is(err, ErrInternal) }

// HTTPStatus maps an error kind to the HTTP status the API layer should use.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return 404
	case IsExists(err):
		return 409
	case IsFailedPrecondition(err), IsNoFieldsUpdated(err):
		return 400
	case IsConnection(err):
		return 503
	default:
		return 500
	}
}
