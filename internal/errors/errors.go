package errors

import (
	"errors"
	"fmt"
)

// Standard library helpers, re-exported so callers need one errors import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// appError carries a code plus at most one of: a wrapped cause, or attached
// data. An explicit message replaces the code's default text.
type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = fmt.Sprintf("%s (%s)", GetErrorMessage(e.code), e.code)
	}

	switch {
	case e.data != nil:
		return fmt.Sprintf("%s: %v", msg, e.data)
	case e.err != nil:
		return fmt.Sprintf("%s: %v", msg, e.err)
	default:
		return msg
	}
}

func (e *appError) Code() ErrorCode { return e.code }
func (e *appError) GetData() any    { return e.data }
func (e *appError) Unwrap() error   { return e.err }

func (e *appError) WithMessage(msg string) Error {
	c := *e
	c.message = msg
	return &c
}

func (e *appError) WithData(data any) Error {
	c := *e
	c.data = data
	return &c
}

type defaultFactory struct{}

func (defaultFactory) New(code ErrorCode) Error {
	return &appError{code: code}
}

func (defaultFactory) Wrap(code ErrorCode, err error) Error {
	return &appError{code: code, err: err}
}

func (defaultFactory) WithMessage(code ErrorCode, msg string) Error {
	return &appError{code: code, message: msg}
}

func (defaultFactory) WithData(code ErrorCode, data any) Error {
	return &appError{code: code, data: data}
}

// New returns the error Factory.
func New() Factory {
	return defaultFactory{}
}

// CodeOf returns the code of the outermost coded error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var coder Coder
	if !As(err, &coder) {
		return "", false
	}
	return coder.Code(), true
}

// HasCode reports whether err, or any error it wraps, carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr Error
		if !As(err, &appErr) {
			return false
		}
		if appErr.Code() == code {
			return true
		}
		err = appErr.Unwrap()
	}

	return false
}
