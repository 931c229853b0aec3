package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status and machine code a handler should respond with.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func BadRequest(code string, format string, args ...any) *Error {
	return New(http.StatusBadRequest, code, fmt.Errorf(format, args...))
}

// StatusOf returns the status and code carried by err, or fallback values when err
// is not an *Error.
func StatusOf(err error, fallbackStatus int, fallbackCode string) (int, string) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		status, code := ae.Status, ae.Code
		if status == 0 {
			status = fallbackStatus
		}
		if code == "" {
			code = fallbackCode
		}
		return status, code
	}
	return fallbackStatus, fallbackCode
}
