// Package errors provides error codes for the offline queue and sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to API and CLI callers.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrConfig   ErrorCode = "CONFIG_ERROR"

	// API errors
	ErrMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"

	// Local storage errors. Fatal to the calling operation, never retried.
	ErrStorage   ErrorCode = "LOCAL_STORAGE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Queue errors
	ErrUnknownKind    ErrorCode = "UNKNOWN_OPERATION_KIND"
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// Collaborator errors
	ErrTransient ErrorCode = "TRANSIENT"
	ErrPermanent ErrorCode = "PERMANENT"

	// Sync errors
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncAborted      ErrorCode = "SYNC_ABORTED"
	ErrSchedulerStopped ErrorCode = "SCHEDULER_NOT_RUNNING"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the outermost error code in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Storage wraps a local storage failure.
func Storage(message string, err error) *AppError {
	return Wrap(ErrStorage, message, err)
}

// Permanent marks a collaborator error as non-retryable (validation rejection,
// remote 4xx). The operation is dropped on the first occurrence.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return Wrap(ErrPermanent, "permanent failure", err)
}

// Transient marks a collaborator error as retryable (timeout, remote 5xx).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return Wrap(ErrTransient, "transient failure", err)
}

// IsPermanent reports whether err must not be retried. Unclassified errors are
// treated as transient.
func IsPermanent(err error) bool {
	return Is(err, ErrPermanent) || Is(err, ErrUnknownKind) || Is(err, ErrInvalid)
}

// IsStorage reports whether err originates from local storage.
func IsStorage(err error) bool {
	return Is(err, ErrStorage)
}
