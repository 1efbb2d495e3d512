// Package fault defines the error taxonomy shared by the executor and the
// model cascade. Inside a multi-turn loop, any error from a tool call
// (malformed arguments, an unknown action, a failed or timed-out
// sub-action) is converted into a tool-response message; an error from the
// model call itself escalates to the caller.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindTimeout
	KindProvider
	KindParse
	KindStopExhausted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindProvider:
		return "provider"
	case KindParse:
		return "parse"
	case KindStopExhausted:
		return "stop_exhausted"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Validation errors additionally carry the list of
// human-readable reasons that failed.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(details ...string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Details: details}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func Provider(err error, format string, args ...any) *Error {
	return &Error{Kind: KindProvider, Message: fmt.Sprintf(format, args...), Err: err}
}

func Parse(err error, format string, args ...any) *Error {
	return &Error{Kind: KindParse, Message: fmt.Sprintf(format, args...), Err: err}
}

func StopExhausted(maxIterations int) *Error {
	return &Error{Kind: KindStopExhausted, Message: fmt.Sprintf("iteration budget of %d exhausted", maxIterations)}
}

// KindOf returns the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsTimeout(err error) bool    { return KindOf(err) == KindTimeout }
func IsProvider(err error) bool   { return KindOf(err) == KindProvider }
func IsParse(err error) bool      { return KindOf(err) == KindParse }

// DetailsOf returns the detail list of a validation error, or nil.
func DetailsOf(err error) []string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}
