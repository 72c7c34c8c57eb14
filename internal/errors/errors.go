package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"hypogate/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping an existing code
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{Code: appErr.Code, Message: message, Cause: err}
	}
	return &AppError{Code: CodeInternalError, Message: message, Cause: err}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if err carries an AppError, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeDuplicate       = "DUPLICATE"
	CodeConflict        = "CONFLICT"
	CodeDataIntegrity   = "DATA_INTEGRITY"
	CodeDeferred        = "DEFERRED"
	CodeRateLimited     = "RATE_LIMITED"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: message, Cause: cause}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// FromDomain classifies a domain error. Errors that already carry a code pass through.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	code := CodeInternalError
	switch {
	case stderrors.Is(err, core.ErrNotFound):
		code = CodeNotFound
	case stderrors.Is(err, core.ErrDuplicateOutcome),
		stderrors.Is(err, core.ErrDuplicateHypothesis):
		code = CodeDuplicate
	case stderrors.Is(err, core.ErrAlreadyPromoted),
		stderrors.Is(err, core.ErrNotEvaluable),
		stderrors.Is(err, core.ErrLockHeld):
		code = CodeConflict
	case core.IsStatisticalPrecondition(err):
		code = CodeDeferred
	case stderrors.Is(err, core.ErrInvalidWindow),
		stderrors.Is(err, core.ErrInvalidOutcome),
		stderrors.Is(err, core.ErrInvalidHypothesis),
		stderrors.Is(err, core.ErrInvalidGate):
		code = CodeValidationError
	case core.IsDataIntegrityError(err):
		code = CodeDataIntegrity
	}
	return &AppError{Code: code, Message: err.Error(), Cause: err}
}

// HTTPStatus maps an error code to a response status
func HTTPStatus(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidationError, CodeDataIntegrity:
		return http.StatusUnprocessableEntity
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeDuplicate, CodeConflict:
		return http.StatusConflict
	case CodeDeferred:
		return http.StatusAccepted
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
