package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is a domain error that knows which HTTP status it maps to.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap builds a copy of kind carrying message and cause.
func Wrap(err error, kind *Error, message string) *Error {
	e := Clone(kind, message)
	e.Err = err
	return e
}

// Clone returns a copy of kind, overriding the message when one is given.
func Clone(kind *Error, message string) *Error {
	if kind == nil {
		return nil
	}
	clone := *kind
	if message != "" {
		clone.Message = message
	}
	return &clone
}

var (
	ErrBadRequest   = New("BAD_REQUEST", http.StatusBadRequest, "bad request")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrInvalidToken = New("INVALID_TOKEN", http.StatusUnauthorized, "invalid or expired token")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "not authorized account")
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrEncoding     = New("TOKEN_ENCODING", http.StatusInternalServerError, "failed to encode token")
	ErrStoreTimeout = New("STORE_TIMEOUT", http.StatusServiceUnavailable, "storage temporarily unavailable")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Is reports whether err carries an *Error with the same code as kind.
func Is(err error, kind *Error) bool {
	var e *Error
	if !errors.As(err, &e) || kind == nil {
		return false
	}
	return e.Code == kind.Code
}

// FromError normalises any error into an *Error. Deadline and cancellation
// errors become ErrStoreTimeout; anything unknown becomes ErrInternal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(err, ErrStoreTimeout, "")
	}
	return Wrap(err, ErrInternal, "")
}
