// Package apperr provides the application error taxonomy. Every error that
// crosses the service boundary is an *AppError carrying a stable
// machine-readable code so clients never have to parse message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced to clients.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"

	// Domain-specific codes
	CodeReqNotPending      = "REQUISITION_NOT_PENDING"
	CodeNoEligibleApprover = "NO_ELIGIBLE_APPROVER"
	CodeEmptyItems         = "EMPTY_ITEMS"
	CodeDuplicateRequest   = "DUPLICATE_REQUEST"
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`    // Machine-readable, e.g. "REQUISITION_NOT_PENDING"
	Message    string `json:"message"` // Human-readable summary
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped underlying error, logged server-side only
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// From extracts an *AppError from err, mapping unknown errors to a generic
// internal error so raw database/SMTP details never reach clients.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func Unauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, HTTPStatus: http.StatusUnauthorized}
}

func Forbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, HTTPStatus: http.StatusForbidden}
}

func NotFound(msg string) *AppError {
	return &AppError{Code: CodeNotFound, Message: msg, HTTPStatus: http.StatusNotFound}
}

func Validation(msg string) *AppError {
	return &AppError{Code: CodeValidationFailed, Message: msg, HTTPStatus: http.StatusBadRequest}
}

func Conflict(code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, HTTPStatus: http.StatusConflict}
}

func Internal(msg string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// WithCode overrides the machine-readable code while keeping status and message.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}
