package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. All packages must use these constants instead of
// hardcoded strings so classification survives error wrapping.
const (
	// Validation
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationPlayerID     ErrorCode = "validation_invalid_player_id"
	ErrCodeValidationFireTime     ErrorCode = "validation_invalid_fire_time"

	// Not Found
	ErrCodeNotFoundChannel  ErrorCode = "not_found_channel"
	ErrCodeNotFoundReminder ErrorCode = "not_found_reminder"
	ErrCodeNotFoundTask     ErrorCode = "not_found_task"

	// Conflict
	ErrCodeConflictTaskDone ErrorCode = "conflict_task_already_done"

	// Runner (per-player domain failures, never fatal to a pass)
	ErrCodeRunnerTimeout   ErrorCode = "runner_timeout"
	ErrCodeRunnerFailed    ErrorCode = "runner_invocation_failed"
	ErrCodeRunnerMalformed ErrorCode = "runner_malformed_output"

	// Internal/Upstream
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamDiscord    ErrorCode = "upstream_discord_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"
)

// AppError is the standard application error type. All domain errors are
// expressed as AppError to enable consistent classification and error chain
// support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected for errors that carry no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsNotFound reports whether the error chain carries a not_found_* code.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFoundChannel, ErrCodeNotFoundReminder, ErrCodeNotFoundTask:
		return true
	}
	return false
}
