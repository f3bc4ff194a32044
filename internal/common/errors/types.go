// Package errors provides structured application errors with a small
// taxonomy matching how sync failures are handled: malformed input is
// skipped per record, transport failures abort a collection, persistence
// failures abort a connection.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an application error.
type ErrorType string

const (
	// ErrTypeParse represents malformed wire input.
	ErrTypeParse ErrorType = "parse"
	// ErrTypeConnection represents network and transport failures.
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeStorage represents persistence failures.
	ErrTypeStorage ErrorType = "storage"
	// ErrTypeNotFound represents resource not found errors.
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeValidation represents invalid configuration or arguments.
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeInternal represents internal system errors.
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		ctx := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			ctx = append(ctx, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(ctx, ", ")))
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ParseError creates a malformed-input error.
func ParseError(msg string) *AppError {
	return &AppError{Type: ErrTypeParse, Message: msg}
}

// ConnectionError creates a transport error.
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConnection, Message: msg, Cause: cause}
}

// StorageError creates a persistence error.
func StorageError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeStorage, Message: msg, Cause: cause}
}

// NotFoundError creates a not-found error for a named resource.
func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// ValidationError creates a validation error.
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// InternalError creates an internal error.
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}
