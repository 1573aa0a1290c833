package models

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before any state mutation.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidationError creates a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError rejects an illegal state transition with no side effect.
// The message names the specific violated invariant.
type ConflictError struct {
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflictError creates a conflict error with the violated invariant.
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err (or anything it wraps) is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")
