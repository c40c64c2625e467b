// Package errors provides standardized error handling for the engagement engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeFinalizedState      ErrorCode = "FINALIZED_STATE"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeAuthorizationFailed ErrorCode = "AUTHORIZATION_FAILED"
	ErrCodeTokenConsumed       ErrorCode = "TOKEN_ALREADY_CONSUMED"
	ErrCodeDuplicateTarget     ErrorCode = "DUPLICATE_TARGET"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"

	ErrCodeDatabaseFailed     ErrorCode = "DATABASE_OPERATION_FAILED"
	ErrCodeNotificationFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeEmailSendFailed    ErrorCode = "EMAIL_SEND_FAILED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error without changing the code or message.
func (e *StandardError) WithCause(err error) *StandardError {
	e.cause = err
	return e
}

// WithMetadata attaches structured context to the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable malformed-input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable unknown-resource error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("%s: %s", resource, id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError creates a non-retryable state violation error.
// Reason carries the rejected state, e.g. "used" or "expired" for tokens.
func NewInvalidStateError(reason, details string) *StandardError {
	e := &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   "Operation not allowed in current state",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
	return e.WithMetadata("reason", reason)
}

// NewFinalizedStateError creates a non-retryable error for transitions
// attempted from a terminal application state.
func NewFinalizedStateError(status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFinalizedState,
		Message:   "Application already finalized",
		Details:   fmt.Sprintf("status: %s", status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConflictError creates an error for a lost optimistic-update race.
// The caller may retry after re-reading current state.
func NewConflictError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConflict,
		Message:   "Concurrent update conflict",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthorizationError creates a non-retryable ownership violation error.
func NewAuthorizationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthorizationFailed,
		Message:   "Actor is not authorized for this operation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyConsumedError creates an error for a token consumed by a
// concurrent request.
func NewAlreadyConsumedError(token string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTokenConsumed,
		Message:   "Invitation token already consumed",
		Details:   fmt.Sprintf("token: %s", truncateToken(token)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateTargetError creates an error for an invitation aimed at an
// email that already belongs to a registered company.
func NewDuplicateTargetError(email string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateTarget,
		Message:   "Target email already belongs to a registered company",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a retryable throttling error.
func NewRateLimitedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Rate limit exceeded",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError creates a retryable storage error.
func NewDatabaseError(operation string, err error) *StandardError {
	e := &StandardError{
		Code:      ErrCodeDatabaseFailed,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
	return e.WithCause(err)
}

// NewNotificationSendFailedError creates a retryable notification delivery error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
	return e.WithCause(err)
}

// NewEmailSendFailedError creates a retryable email delivery error.
func NewEmailSendFailedError(err error) *StandardError {
	e := &StandardError{
		Code:      ErrCodeEmailSendFailed,
		Message:   "Email delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
	return e.WithCause(err)
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	e := &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
	return e.WithCause(err)
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf extracts the ErrorCode from an error chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Wrap adds caller context to a StandardError without losing its code;
// non-standard errors become internal errors.
func Wrap(err error, context string) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		wrapped := *stdErr
		wrapped.Details = strings.TrimSpace(context + ": " + stdErr.Details)
		wrapped.cause = err
		return &wrapped
	}
	e := NewInternalError(err)
	e.Details = context + ": " + e.Details
	return e
}

// ReasonOf returns the "reason" metadata set by NewInvalidStateError.
func ReasonOf(err error) string {
	var stdErr *StandardError
	if errors.As(err, &stdErr) && stdErr.Metadata != nil {
		if reason, ok := stdErr.Metadata["reason"].(string); ok {
			return reason
		}
	}
	return ""
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "STATE") || strings.Contains(codeStr, "CONFLICT") || strings.Contains(codeStr, "CONSUMED"):
		return "LIFECYCLE"
	case strings.Contains(codeStr, "AUTHORIZATION"):
		return "AUTHORIZATION"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "EMAIL"):
		return "DELIVERY"
	default:
		return "OTHER"
	}
}

// Tokens are shown truncated outside the issuing flow.
func truncateToken(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[:2] + "****" + token[len(token)-2:]
}
