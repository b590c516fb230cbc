// Package errors provides standardized error handling for the dispatch engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidSchedule  ErrorCode = "INVALID_SCHEDULE"
	ErrCodeInvalidTimezone  ErrorCode = "INVALID_TIMEZONE"
	ErrCodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"

	ErrCodeBroadcastNotFound ErrorCode = "BROADCAST_NOT_FOUND"
	ErrCodeTemplateNotFound  ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeContactNotFound   ErrorCode = "CONTACT_NOT_FOUND"

	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	ErrCodeTransportFailed   ErrorCode = "TRANSPORT_FAILED"
	ErrCodeTransportRejected ErrorCode = "TRANSPORT_REJECTED"

	ErrCodeQueueOperationFailed ErrorCode = "QUEUE_OPERATION_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Input validation failed", details, false, nil)
}

// NewInvalidScheduleError is returned when a start date cannot be parsed or is not in the future.
func NewInvalidScheduleError(details string) *StandardError {
	return newError(ErrCodeInvalidSchedule, "Invalid scheduled start date", details, false, nil)
}

func NewInvalidTimezoneError(timezone string, err error) *StandardError {
	return newError(ErrCodeInvalidTimezone, "Invalid timezone", fmt.Sprintf("timezone: %s", timezone), false, err)
}

// NewInvalidPayloadError is returned when a job payload violates the wire contract.
func NewInvalidPayloadError(details string) *StandardError {
	return newError(ErrCodeInvalidPayload, "Job payload failed schema validation", details, false, nil)
}

func NewBroadcastNotFoundError(broadcastID string) *StandardError {
	return newError(ErrCodeBroadcastNotFound, "Broadcast not found", fmt.Sprintf("broadcastId: %s", broadcastID), false, nil)
}

func NewTemplateNotFoundError(templateID string) *StandardError {
	return newError(ErrCodeTemplateNotFound, "Template not found", fmt.Sprintf("templateId: %s", templateID), false, nil)
}

func NewContactNotFoundError(broadcastID, contactID string) *StandardError {
	return newError(ErrCodeContactNotFound, "Contact not found in broadcast",
		fmt.Sprintf("broadcastId: %s, contactId: %s", broadcastID, contactID), false, nil)
}

// NewInvalidTransitionError reports a status change the state machine forbids.
func NewInvalidTransitionError(from, to string) *StandardError {
	return newError(ErrCodeInvalidTransition, "Status transition not allowed", fmt.Sprintf("from: %s, to: %s", from, to), false, nil).
		WithMetadata("from", from).
		WithMetadata("to", to)
}

// NewTransportFailedError wraps a transient gateway failure.
func NewTransportFailedError(err error) *StandardError {
	return newError(ErrCodeTransportFailed, "Message transport failed", errString(err), true, err)
}

// NewTransportRejectedError wraps a gateway rejection that retrying will not fix.
func NewTransportRejectedError(details string) *StandardError {
	return newError(ErrCodeTransportRejected, "Message rejected by transport", details, false, nil)
}

func NewQueueOperationFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeQueueOperationFailed, "Queue operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, errString(err)), true, err)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", errString(err), true, err)
}

func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, errString(err)), true, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errString(err), false, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 3. Classification
// ==========================

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether err (or anything it wraps) is a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return errors.As(err, &stdErr) && stdErr.Code == code
}

// IsValidation reports whether err is a caller input error.
func IsValidation(err error) bool {
	var stdErr *StandardError
	if !errors.As(err, &stdErr) {
		return false
	}
	return GetErrorCategory(stdErr.Code) == CategoryValidation
}

// IsNotFound reports whether err refers to a missing entity.
func IsNotFound(err error) bool {
	var stdErr *StandardError
	if !errors.As(err, &stdErr) {
		return false
	}
	return GetErrorCategory(stdErr.Code) == CategoryNotFound
}

// IsRetryable reports whether the error should be retried by the queue.
// Errors outside the taxonomy are treated as terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Normalize(err).Retryable
}

// GetRetryCount returns the number of retries a given error code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransportFailed:
		return 5
	case ErrCodeQueueOperationFailed, ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed:
		return 3
	default:
		return 0
	}
}

// IsRetryableErrorCode reports whether an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

const (
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategoryState      = "state"
	CategoryTransport  = "transport"
	CategoryQueue      = "queue"
	CategoryDatabase   = "database"
	CategoryInternal   = "internal"
)

// GetErrorCategory returns the category of an error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidSchedule, ErrCodeInvalidTimezone, ErrCodeInvalidPayload:
		return CategoryValidation
	case ErrCodeBroadcastNotFound, ErrCodeTemplateNotFound, ErrCodeContactNotFound:
		return CategoryNotFound
	case ErrCodeInvalidTransition:
		return CategoryState
	case ErrCodeTransportFailed, ErrCodeTransportRejected:
		return CategoryTransport
	case ErrCodeQueueOperationFailed:
		return CategoryQueue
	case ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed:
		return CategoryDatabase
	default:
		return CategoryInternal
	}
}
