package errors

import (
	"errors"
	"fmt"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	ErrCodeNoSession          ErrorCode = "no_session"
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeAccessDenied       ErrorCode = "access_denied"
	ErrCodeProfileNotFound    ErrorCode = "profile_not_found"
	ErrCodeDatabase           ErrorCode = "database"
	ErrCodeRLS                ErrorCode = "rls"
	ErrCodeMiddleware         ErrorCode = "middleware"
)

// codeSentinels links codes to the auth domain sentinels so errors.Is works across layers.
var codeSentinels = map[ErrorCode]error{
	ErrCodeNoSession:          domainauth.ErrNoSession,
	ErrCodeInvalidCredentials: domainauth.ErrInvalidCredentials,
	ErrCodeAccessDenied:       domainauth.ErrAccessDenied,
	ErrCodeProfileNotFound:    domainauth.ErrProfileNotFound,
	ErrCodeNotFound:           domainauth.ErrProfileNotFound,
	ErrCodeDatabase:           domainauth.ErrDatabase,
	ErrCodeInternal:           domainauth.ErrDatabase,
	ErrCodeTimeout:            domainauth.ErrDatabase,
	ErrCodeCanceled:           domainauth.ErrDatabase,
	ErrCodeRLS:                domainauth.ErrRLS,
	ErrCodeMiddleware:         domainauth.ErrMiddleware,
}

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the auth sentinel associated with e.Code.
func (e *AppError) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, message)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return New(ErrCodeInternal, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// Classify maps any error onto the auth taxonomy. Unknown errors become ErrCodeInternal.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if code := GetCode(err); code != "" {
		return code
	}
	switch {
	case errors.Is(err, domainauth.ErrNoSession), errors.Is(err, domainauth.ErrSessionNotFound):
		return ErrCodeNoSession
	case errors.Is(err, domainauth.ErrInvalidCredentials):
		return ErrCodeInvalidCredentials
	case errors.Is(err, domainauth.ErrAccessDenied):
		return ErrCodeAccessDenied
	case errors.Is(err, domainauth.ErrProfileNotFound):
		return ErrCodeProfileNotFound
	case errors.Is(err, domainauth.ErrRLS):
		return ErrCodeRLS
	case errors.Is(err, domainauth.ErrDatabase):
		return ErrCodeDatabase
	case errors.Is(err, domainauth.ErrMiddleware):
		return ErrCodeMiddleware
	}
	return ErrCodeInternal
}
