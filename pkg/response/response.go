package response

import (
	"errors"
	"fmt"
)

// Error is an error that carries the HTTP status it should be answered with.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code and message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Err.Error() == t.Err.Error()
}

func NewError(code int, err string) error {
	return &Error{code, errors.New(err)}
}

// Wrap attaches detail to a coded error while keeping its status.
func Wrap(err error, format string, args ...interface{}) error {
	var respErr *Error
	if !errors.As(err, &respErr) {
		return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
	}
	return &Error{Code: respErr.Code, Err: fmt.Errorf("%w: %s", respErr.Err, fmt.Sprintf(format, args...))}
}

// StatusOf reports the status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var respErr *Error
	if errors.As(err, &respErr) {
		return respErr.Code, true
	}
	return 0, false
}
