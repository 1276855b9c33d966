package dto

import "github.com/shopspring/decimal"

// APIError represents a structured error response.
// All error responses from the API use this format for consistency.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Diff is set for allocation mismatches: parent amount minus allocated sum.
	Diff *decimal.Decimal `json:"diff,omitempty"`
}

// Common error codes
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeInternalError = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeConflict      = "conflict"
	ErrCodeMismatch      = "allocation_mismatch"
	ErrCodeBusy          = "batch_running"
)

// NewAPIError creates a new APIError with the given code and message.
func NewAPIError(code, message string) APIError {
	return APIError{
		Code:    code,
		Message: message,
	}
}

// NotFoundError creates a not found error response.
func NotFoundError(resource string) APIError {
	return NewAPIError(ErrCodeNotFound, resource+" not found")
}

// BadRequestError creates a bad request error response.
func BadRequestError(message string) APIError {
	return NewAPIError(ErrCodeBadRequest, message)
}

// InternalError creates an internal server error response.
func InternalError() APIError {
	return NewAPIError(ErrCodeInternalError, "an internal error occurred")
}

// ValidationError creates a validation error response.
func ValidationError(message string) APIError {
	return NewAPIError(ErrCodeValidation, message)
}

// ConflictError is returned when the record or item is in the wrong state.
func ConflictError(message string) APIError {
	return NewAPIError(ErrCodeConflict, message)
}

// MismatchError reports allocations that do not sum to the parent.
func MismatchError(message string, diff decimal.Decimal) APIError {
	e := NewAPIError(ErrCodeMismatch, message)
	e.Diff = &diff
	return e
}
