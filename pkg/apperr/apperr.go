// Package apperr defines the error taxonomy shared by the client pipeline and
// the server API. Errors carry a Code that decides retry behaviour and the
// HTTP status they map to at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Auth(msg string) error       { return New(CodeAuth, msg) }
func Conflict(msg string) error   { return New(CodeConflict, msg) }
func Validation(msg string) error { return New(CodeValidation, msg) }
func Access(msg string) error     { return New(CodeAccess, msg) }
func Transient(msg string) error  { return New(CodeTransient, msg) }
func Crypto(msg string) error     { return New(CodeCrypto, msg) }
func NotFound(msg string) error   { return New(CodeNotFound, msg) }
func Internal(msg string) error   { return New(CodeInternal, msg) }

// CodeOf extracts the taxonomy code from err, walking the wrap chain.
// Errors outside the taxonomy are reported as CodeUnknown.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Retryable reports whether the delivery pipeline may retry after err.
// Unknown errors are treated as transient so that plain network failures
// from the HTTP layer are not dropped on the floor.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTransient, CodeUnknown:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a taxonomy code to the status the server responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAccess:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransient:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus classifies a server response status on the client side.
func FromHTTPStatus(status int, msg string) error {
	switch {
	case status == http.StatusUnauthorized:
		return Auth(msg)
	case status == http.StatusConflict:
		return Conflict(msg)
	case status == http.StatusBadRequest:
		return Validation(msg)
	case status == http.StatusForbidden:
		return Access(msg)
	case status == http.StatusNotFound:
		return NotFound(msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient(msg)
	default:
		return New(CodeUnknown, msg)
	}
}
