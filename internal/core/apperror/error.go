// Package apperror provides structured error handling for the translation core.
// All stage-level errors must use AppError for consistent reporting.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes grouped by pipeline stage
const (
	// Infrastructure errors
	CodeInternal = "INTERNAL_ERROR"
	CodeCatalog  = "CATALOG_ERROR"

	// Validation errors
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Stage errors
	CodeConflictResolution = "CONFLICT_RESOLUTION_ERROR"
	CodeFilterBuilding     = "FILTER_BUILDING_ERROR"
	CodeQueryGeneration    = "QUERY_GENERATION_ERROR"

	// Not found
	CodeNotFound = "NOT_FOUND"
)

// AppError is the standard error type for the translation core.
// It implements error interface and provides structured details for callers.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field paths, terms, etc.)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewCatalog creates a catalog load/parse error. Fatal at build time.
func NewCatalog(message string) *AppError {
	return &AppError{
		Code:    CodeCatalog,
		Message: message,
	}
}

// NewValidation creates a validation error
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewInvalidInput creates an invalid input error
func NewInvalidInput(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFound creates a not found error
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewConflictResolution creates a conflict resolution stage error
func NewConflictResolution(message string) *AppError {
	return &AppError{
		Code:    CodeConflictResolution,
		Message: message,
	}
}

// NewFilterBuilding creates a filter composition stage error
func NewFilterBuilding(message string) *AppError {
	return &AppError{
		Code:    CodeFilterBuilding,
		Message: message,
	}
}

// NewQueryGeneration creates a query generation stage error
func NewQueryGeneration(message string) *AppError {
	return &AppError{
		Code:    CodeQueryGeneration,
		Message: message,
	}
}

// NewInternal creates an internal error (hides details from callers)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal error",
		Err:     err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsCatalog checks if error is CodeCatalog
func IsCatalog(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeCatalog
	}
	return false
}
