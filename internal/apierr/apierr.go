// Package apierr defines the error taxonomy shared by the request execution layer.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the action a caller can take about it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork covers connection, timeout, DNS and cancellation failures.
	KindNetwork
	// KindRateLimitExceeded is a local limiter wait that ran out of time.
	KindRateLimitExceeded
	// KindRateLimit is an upstream HTTP 429.
	KindRateLimit
	KindAuth
	KindValidation
	KindServer
	KindParse
)

var kindNames = map[Kind]string{
	KindUnknown:           "UnknownError",
	KindNetwork:           "NetworkError",
	KindRateLimitExceeded: "RateLimitExceeded",
	KindRateLimit:         "RateLimitError",
	KindAuth:              "AuthError",
	KindValidation:        "ValidationError",
	KindServer:            "ServerError",
	KindParse:             "ParseError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether a caller may retry an operation that failed with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimitExceeded, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// Error is the single error type returned by the core. Status is the HTTP status when the
// failure came from an upstream response; Row is the 1-based data row for cache parse failures.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Row     int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Row > 0 {
		return fmt.Sprintf("%s: row %d: %s", e.Kind, e.Row, msg)
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apierr.ErrAuth) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrRateLimitExceeded = &Error{Kind: KindRateLimitExceeded}
	ErrRateLimit         = &Error{Kind: KindRateLimit}
	ErrAuth              = &Error{Kind: KindAuth}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrServer            = &Error{Kind: KindServer}
	ErrParse             = &Error{Kind: KindParse}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
