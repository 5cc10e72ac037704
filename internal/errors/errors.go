// Package errors provides the typed application errors shared across the
// service. Every failure a handler can surface carries one of the codes
// below; the HTTP layer maps codes to status codes and the core never
// returns a bare error across a package boundary.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an application error.
type ErrorCode string

const (
	ErrCodeValidation          ErrorCode = "VALIDATION"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeIncompleteDecisions ErrorCode = "INCOMPLETE_DECISIONS"
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeDependencyUnmet     ErrorCode = "DEPENDENCY_UNMET"
	ErrCodeInternal            ErrorCode = "INTERNAL"
)

// AppError is the error type returned by repositories and services.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// Details carries per-code context: offending item IDs for
	// INCOMPLETE_DECISIONS, blocking phase keys for DEPENDENCY_UNMET.
	Details []string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New creates an AppError with a code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("%s: %s", field, message),
	}
}

// IncompleteDecisions reports a submission blocked by undecided items.
func IncompleteDecisions(itemIDs []string) *AppError {
	return &AppError{
		Code:    ErrCodeIncompleteDecisions,
		Message: fmt.Sprintf("%d item(s) lack a required decision", len(itemIDs)),
		Details: itemIDs,
	}
}

// DependencyUnmet reports a phase transition blocked by upstream phases.
func DependencyUnmet(phaseKeys []string) *AppError {
	return &AppError{
		Code:    ErrCodeDependencyUnmet,
		Message: fmt.Sprintf("blocked by %d upstream phase(s)", len(phaseKeys)),
		Details: phaseKeys,
	}
}

// Code extracts the ErrorCode from err, or ErrCodeInternal for untyped errors.
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Details extracts the per-code context list from err, if any.
func Details(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}
