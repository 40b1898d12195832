// Package apperr defines the typed error kinds from spec.md §7 and
// the HTTP/WS codes they map onto, so handlers never hand-roll status
// codes inline the way the teacher's main.go did (a bare log.Fatal on
// upgrade failure).
package apperr

import "fmt"

// Kind is one of the error kinds named in spec.md §7.
type Kind string

const (
	Unauthorised       Kind = "unauthorised"
	BaseTooOld         Kind = "base_too_old"
	MalformedFrame     Kind = "malformed_frame"
	StorageUnavailable Kind = "storage_unavailable"
	RateLimited        Kind = "rate_limited"
	Backpressure       Kind = "backpressure"
	NotFound           Kind = "not_found"
)

// Error wraps a Kind with a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// HTTPStatus returns the status code spec.md §7 assigns this kind,
// for handlers that speak plain HTTP.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Unauthorised, NotFound:
		// Both map to 401: a missing slug must read the same as a
		// wrong password, or the status code leaks slug existence.
		return 401
	case StorageUnavailable:
		return 503
	case RateLimited:
		return 429
	case MalformedFrame:
		return 400
	default:
		return 400
	}
}

// WSCloseCode returns the WebSocket close code spec.md §7 assigns
// this kind, for handlers that need to terminate the transport.
func (e *Error) WSCloseCode() int {
	switch e.Kind {
	case MalformedFrame:
		return 1007
	case Backpressure:
		return 1013
	default:
		return 1000
	}
}

// As reports whether err is an *Error of the given kind.
func As(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
