package service

import "fmt"

// Code is the machine-readable error class surfaced in API envelopes.
type Code string

const (
	CodeValidation    Code = "validation_error"
	CodeStateConflict Code = "state_conflict"
	CodeNotFound      Code = "not_found"
	CodeRateLimited   Code = "rate_limited"
	CodeInternal      Code = "internal"
)

// Error carries the taxonomy class alongside the human-readable message.
// Validation and state-conflict errors resolve within the handler and are
// never retried; everything else is treated as transient infrastructure.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Msg: fmt.Sprintf(format, args...)}
}

func StateConflictf(format string, args ...any) *Error {
	return &Error{Code: CodeStateConflict, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Msg: fmt.Sprintf(format, args...)}
}

func RateLimitedf(format string, args ...any) *Error {
	return &Error{Code: CodeRateLimited, Msg: fmt.Sprintf(format, args...)}
}
