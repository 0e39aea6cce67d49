// Package errors defines the structured error taxonomy shared by the chain
// editor, memory service, and generation orchestrator.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for chat operations.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced chat, message, or chain root is missing.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidState indicates an operation that would violate an invariant.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	// ErrCodeUpstreamFailure indicates the model service rejected or failed mid-stream.
	ErrCodeUpstreamFailure ErrorCode = "UPSTREAM_FAILURE"
	// ErrCodeDataIntegrity indicates a broken chain or other constraint violation.
	ErrCodeDataIntegrity ErrorCode = "DATA_INTEGRITY"
	// ErrCodeCanceled indicates the operation was canceled. Cancellation is a
	// normal terminal state for generation, not a failure.
	ErrCodeCanceled ErrorCode = "CANCELED"
)

// ChatError represents a structured error for chat operations.
type ChatError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *ChatError {
	return &ChatError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState creates an invalid-state error.
func InvalidState(format string, args ...any) *ChatError {
	return &ChatError{Code: ErrCodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// UpstreamFailure wraps a model service failure.
func UpstreamFailure(msg string, cause error) *ChatError {
	return &ChatError{Code: ErrCodeUpstreamFailure, Message: msg, Cause: cause}
}

// Canceled wraps a cancellation.
func Canceled(cause error) *ChatError {
	return &ChatError{Code: ErrCodeCanceled, Message: "operation canceled", Cause: cause}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code ErrorCode, msg string) *ChatError {
	return &ChatError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error carries a specific code.
func IsCode(err error, code ErrorCode) bool {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Code == code
	}
	return false
}
