package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures so handlers can map them to transport
// semantics and callers can decide whether a retry makes sense.
type ErrorCode string

const (
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeExternal       ErrorCode = "EXTERNAL_SERVICE"
	ErrCodeReconciliation ErrorCode = "RECONCILIATION"
	ErrCodeInternal       ErrorCode = "INTERNAL"
)

// AppError is the service-wide error type. Every failure crossing a package
// boundary is either an *AppError or wraps one.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// InvalidInput reports a bad field in a request.
func InvalidInput(field, reason string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Forbidden reports an actor acting outside its role.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// Conflict reports a state-machine precondition failure or a lost
// conditional-update race. The action must not be blindly retried; the caller
// should refresh and reassess.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// External reports a failed call to the payment processor. Local state is
// unchanged and the triggering action is safe to retry.
func External(err error, message string) *AppError {
	return &AppError{Code: ErrCodeExternal, Message: message, Err: err}
}

// Reconciliation reports that an external resource was created but the local
// persist failed. Never surfaced to end users; logged for operator action.
func Reconciliation(err error, message string) *AppError {
	return &AppError{Code: ErrCodeReconciliation, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from any error, defaulting to internal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the response status the transport layer sends.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
