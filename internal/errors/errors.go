// Package errors provides the error taxonomy for viewtally.
//
// This file provides:
// - Result codes attached to failure values returned to callers
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Result codes - attached to failure results returned by the facade
// ============================================================================

const (
	CodeUnknown        int32 = 1
	CodeInvalidRequest int32 = 2
	CodeNotFound       int32 = 3
	CodeStore          int32 = 4
	CodeTimeConversion int32 = 5
	CodeInternal       int32 = 6
	CodeNotAuthorized  int32 = 7
)

// CodeName returns a human-readable name for a result code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeStore:
		return "Store"
	case CodeTimeConversion:
		return "TimeConversion"
	case CodeInternal:
		return "Internal"
	case CodeNotAuthorized:
		return "NotAuthorized"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrHistoryNotFound = errors.New("history record not found")

	// Validation errors
	ErrValidation      = errors.New("validation failed")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidURL      = errors.New("invalid url")
	ErrInvalidDocument = errors.New("invalid document")

	// Time conversion errors (recovered locally)
	ErrTimeConversion = errors.New("time conversion failed")
	ErrUnknownZone    = errors.New("unknown time zone")

	// Store errors
	ErrStore      = errors.New("store error")
	ErrBatchLimit = errors.New("batch write limit exceeded")
	ErrClosed     = errors.New("store is closed")

	// Auth errors
	ErrNotAuthorized = errors.New("not authorized")

	// Internal errors
	ErrInternal    = errors.New("internal error")
	ErrCorruptTree = errors.New("stat tree invariant violated")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrHistoryNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrInvalidDocument)
}

// IsTimeConversion returns true if err is a time conversion error.
func IsTimeConversion(err error) bool {
	return errors.Is(err, ErrTimeConversion) ||
		errors.Is(err, ErrUnknownZone)
}

// IsStore returns true if err originated in the document store.
func IsStore(err error) bool {
	return errors.Is(err, ErrStore) ||
		errors.Is(err, ErrBatchLimit) ||
		errors.Is(err, ErrClosed)
}

// IsRetriable returns true if the failed operation may be retried as a whole.
// Store failures are retriable unless the store has been closed.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStore) && !errors.Is(err, ErrClosed)
}

// ErrorToCode maps an error to its result code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case IsNotFound(err):
		return CodeNotFound
	case IsValidation(err):
		return CodeInvalidRequest
	case IsTimeConversion(err):
		return CodeTimeConversion
	case IsStore(err):
		return CodeStore
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(kind, identifier string) error {
	return fmt.Errorf("%s '%s': %w", kind, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrValidation)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrValidation)
}

// NewStore tags a store failure with the operation that produced it.
// A nil err yields nil. Errors already tagged are wrapped once more with op.
func NewStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsStore(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// NewTimeConversion creates a time conversion error for a field value.
func NewTimeConversion(field string, value interface{}) error {
	return fmt.Errorf("%s %v: %w", field, value, ErrTimeConversion)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
