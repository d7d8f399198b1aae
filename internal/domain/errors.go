package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an AppError independently of its HTTP status.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindPricingNotFound ErrorKind = "pricing_not_found"
	KindGateway         ErrorKind = "gateway"
	KindGatewayTimeout  ErrorKind = "gateway_timeout"
	KindAlreadySettled  ErrorKind = "already_settled"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindForbidden       ErrorKind = "forbidden"
	KindBadRequest      ErrorKind = "bad_request"
	KindValidation      ErrorKind = "validation"
	KindConflict        ErrorKind = "conflict"
	KindInternal        ErrorKind = "internal"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code"`
	Message string    `json:"error"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Code: http.StatusNotFound, Message: msg}
}

func ErrPricingNotFound(msg string) *AppError {
	return &AppError{Kind: KindPricingNotFound, Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrGateway(msg string, err error) *AppError {
	return &AppError{Kind: KindGateway, Code: http.StatusBadGateway, Message: msg, Err: err}
}

func ErrGatewayTimeout(msg string, err error) *AppError {
	return &AppError{Kind: KindGatewayTimeout, Code: http.StatusGatewayTimeout, Message: msg, Err: err}
}

// ErrAlreadySettled is reported when a settlement has already been applied.
// Callers treat it as a successful no-op.
func ErrAlreadySettled(msg string) *AppError {
	return &AppError{Kind: KindAlreadySettled, Code: http.StatusOK, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Kind: KindUnauthorized, Code: http.StatusUnauthorized, Message: msg}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Kind: KindForbidden, Code: http.StatusForbidden, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Kind: KindBadRequest, Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Kind: KindValidation, Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Kind: KindConflict, Code: http.StatusConflict, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}
