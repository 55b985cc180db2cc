// Package errors provides the error taxonomy shared by the realtime engine,
// the persistence layer and the HTTP surface.
//
// Every error that can reach a client is a *UnifiedError. The Type decides how
// the error propagates: validation, not-found and forbidden errors stop at the
// edit relay and are reported to the originating session only; persistence
// errors stay inside the synchronizer unless a client explicitly asked for a
// save.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ============================================================================
// ERROR TYPES
// ============================================================================

// ErrorType defines the category of error for proper handling and response.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict     ErrorType = "CONFLICT"

	ErrorTypePersistence ErrorType = "PERSISTENCE"
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// Well-known codes used across packages.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidDocument    = "INVALID_DOCUMENT"
	CodeMindmapNotFound    = "MINDMAP_NOT_FOUND"
	CodeNodeNotFound       = "NODE_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeNotInRoom          = "NOT_IN_ROOM"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ============================================================================
// UNIFIED ERROR STRUCTURE
// ============================================================================

// UnifiedError is the single error type used by every layer.
type UnifiedError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`

	Operation string `json:"operation,omitempty"`
	Resource  string `json:"resource,omitempty"`
	UserID    string `json:"userId,omitempty"`

	Retryable bool  `json:"retryable"`
	Cause     error `json:"-"`

	File string `json:"-"`
	Line int    `json:"-"`
}

// Error implements the error interface.
func (e *UnifiedError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause.
func (e *UnifiedError) Unwrap() error {
	return e.Cause
}

// String provides a detailed representation for logging.
func (e *UnifiedError) String() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Error: %s\n", e.Error()))
	if e.Operation != "" {
		builder.WriteString(fmt.Sprintf("Operation: %s\n", e.Operation))
	}
	if e.Resource != "" {
		builder.WriteString(fmt.Sprintf("Resource: %s\n", e.Resource))
	}
	if e.UserID != "" {
		builder.WriteString(fmt.Sprintf("UserID: %s\n", e.UserID))
	}
	builder.WriteString(fmt.Sprintf("Retryable: %t\n", e.Retryable))
	if e.Cause != nil {
		builder.WriteString(fmt.Sprintf("Cause: %v\n", e.Cause))
	}
	if e.File != "" && e.Line > 0 {
		builder.WriteString(fmt.Sprintf("Location: %s:%d\n", e.File, e.Line))
	}
	return builder.String()
}

// ============================================================================
// ERROR BUILDER
// ============================================================================

// ErrorBuilder provides a fluent interface for constructing UnifiedError instances.
type ErrorBuilder struct {
	error *UnifiedError
}

// NewError creates a new error builder with the specified type and message.
func NewError(errType ErrorType, code, message string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(2)
	return &ErrorBuilder{
		error: &UnifiedError{
			Type:    errType,
			Code:    code,
			Message: message,
			File:    file,
			Line:    line,
		},
	}
}

// WithDetails adds additional details to the error.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.error.Details = details
	return b
}

// WithOperation specifies the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.error.Operation = operation
	return b
}

// WithResource specifies the resource being operated on.
func (b *ErrorBuilder) WithResource(resource string) *ErrorBuilder {
	b.error.Resource = resource
	return b
}

// WithUserID adds user context to the error.
func (b *ErrorBuilder) WithUserID(userID string) *ErrorBuilder {
	b.error.UserID = userID
	return b
}

// WithRetryable marks the error as retryable.
func (b *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	b.error.Retryable = retryable
	return b
}

// WithCause adds the underlying cause error.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.error.Cause = cause
	return b
}

// Build returns the constructed UnifiedError.
func (b *ErrorBuilder) Build() *UnifiedError {
	return b.error
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// Validation creates an invalid-input error.
func Validation(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeValidation, code, message)
}

// NotFound creates a not found error.
func NotFound(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeNotFound, code, message)
}

// Forbidden creates an access denied error.
func Forbidden(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeForbidden, code, message)
}

// Unauthorized creates an authentication error.
func Unauthorized(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnauthorized, code, message)
}

// Conflict creates a conflict error.
func Conflict(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeConflict, code, message)
}

// Persistence creates a durable storage error. Persistence errors are
// retryable by default.
func Persistence(code, message string) *ErrorBuilder {
	return NewError(ErrorTypePersistence, code, message).WithRetryable(true)
}

// Unavailable creates an error for a dependency that is temporarily refusing work.
func Unavailable(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnavailable, code, message).WithRetryable(true)
}

// Internal creates an internal error.
func Internal(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeInternal, code, message)
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.Type == errType
	}
	return false
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsForbidden checks if an error is an access denied error.
func IsForbidden(err error) bool {
	return IsType(err, ErrorTypeForbidden)
}

// IsUnauthorized checks if an error is an unauthorized error.
func IsUnauthorized(err error) bool {
	return IsType(err, ErrorTypeUnauthorized)
}

// IsPersistence checks if an error is a durable storage error.
func IsPersistence(err error) bool {
	return IsType(err, ErrorTypePersistence)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.Retryable
	}
	return false
}

// As returns the UnifiedError in err's chain, if any.
func As(err error) (*UnifiedError, bool) {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr, true
	}
	return nil, false
}

// ============================================================================
// WRAPPING
// ============================================================================

// Wrap wraps an existing error with additional context while preserving the
// original classification. Plain errors become INTERNAL.
func Wrap(err error, operation, message string) *UnifiedError {
	if err == nil {
		return nil
	}

	var existingErr *UnifiedError
	if errors.As(err, &existingErr) {
		return &UnifiedError{
			Type:      existingErr.Type,
			Code:      existingErr.Code,
			Message:   message,
			Details:   existingErr.Message,
			Operation: operation,
			Resource:  existingErr.Resource,
			UserID:    existingErr.UserID,
			Retryable: existingErr.Retryable,
			Cause:     err,
			File:      existingErr.File,
			Line:      existingErr.Line,
		}
	}

	_, file, line, _ := runtime.Caller(1)
	return &UnifiedError{
		Type:      ErrorTypeInternal,
		Code:      "WRAP_ERROR",
		Message:   message,
		Details:   err.Error(),
		Operation: operation,
		Cause:     err,
		File:      file,
		Line:      line,
	}
}

// HTTPStatus maps an error to the HTTP status code used by the REST surface.
func HTTPStatus(err error) int {
	unifiedErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch unifiedErr.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypePersistence:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that is safe to show to a client.
// Internal details never leave the process.
func PublicMessage(err error) (code, message string) {
	unifiedErr, ok := As(err)
	if !ok || unifiedErr.Type == ErrorTypeInternal {
		return CodeInternal, "internal server error"
	}
	return unifiedErr.Code, unifiedErr.Message
}
