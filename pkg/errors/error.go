package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
)

// Error is a coded error. Message defaults to the code's message; Err is
// the cause, if any, and stays reachable through errors.Is and errors.As.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.Message()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error with the code's default message.
func New(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Message()}
}

func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err. A coded err is copied with the new code so the
// original value is left untouched.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		c := *e
		c.Code = code
		c.Details = maps.Clone(e.Details)
		return &c
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// Wrapf attaches code and a new message to err.
func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithDetail records a key that is returned to clients in the response details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	return stderrors.AsType[*Error](err)
}

// GetCode returns the code in err's chain: Success for nil and
// InternalServerError for uncoded errors.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return InternalServerError
}

// GetError is like GetCode but returns the coded error itself.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return &Error{Code: InternalServerError, Message: err.Error(), Err: err}
}

func Is(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// ValidationError reports an invalid request field.
func ValidationError(field, reason string) *Error {
	return Newf(ValidationFailed, "%s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// UnsupportedLanguage reports a language with no configured backend.
func UnsupportedLanguage(language string) *Error {
	return Newf(LanguageNotSupported, "Language %s is not supported", language).
		WithDetail("language", language)
}
