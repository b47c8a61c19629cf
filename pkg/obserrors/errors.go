// Package obserrors provides the error vocabulary shared by every store
// backend and stream bridge. Errors carry a Kind rather than a concrete
// per-backend type so that callers can match behavior (`errors.Is`) without
// knowing which backend produced the failure.
package obserrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the fixed behavioral categories.
type Kind uint8

const (
	// Generic is the fallback for backend errors with no dedicated mapping.
	Generic Kind = iota
	// NotFound means the requested path does not exist.
	NotFound
	// AlreadyExists means a conditional create lost the race.
	AlreadyExists
	// Precondition means a conditional get/put condition was not satisfied.
	Precondition
	// NotModified means an If-None-Match / If-Modified-Since condition held.
	NotModified
	// InvalidPath means the path syntax is malformed.
	InvalidPath
	// NotSupported means the selected backend cannot perform the operation.
	NotSupported
	// PermissionDenied means the caller is authenticated but not authorized.
	PermissionDenied
	// Unauthenticated means the credentials were missing or rejected.
	Unauthenticated
	// Timeout means a request exceeded its configured timeout.
	Timeout
	// InvalidSeek means a reader seek resolved to a negative offset or used
	// an unknown whence value.
	InvalidSeek
	// InvalidState means a reader/writer state machine was misused, such as
	// writing after close.
	InvalidState
	// ConfigConflict means the same canonical option was supplied with
	// differing values from two configuration sources.
	ConfigConflict
	// UnknownConfigKey means an option name did not resolve against the
	// backend's canonical key set.
	UnknownConfigKey
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case Precondition:
		return "PreconditionFailed"
	case NotModified:
		return "NotModified"
	case InvalidPath:
		return "InvalidPath"
	case NotSupported:
		return "NotSupported"
	case PermissionDenied:
		return "PermissionDenied"
	case Unauthenticated:
		return "Unauthenticated"
	case Timeout:
		return "Timeout"
	case InvalidSeek:
		return "InvalidSeek"
	case InvalidState:
		return "InvalidState"
	case ConfigConflict:
		return "ConfigConflict"
	case UnknownConfigKey:
		return "UnknownConfigKey"
	default:
		return "Generic"
	}
}

// Error is the concrete error carried through the module.
type Error struct {
	Kind  Kind
	Store string
	Path  string
	Msg   string
	Err   error

	// Retryable marks a Generic error as transient (5xx-equivalent).
	// Timeout errors are always transient regardless of this flag.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Store != "" {
		s += " (" + e.Store + ")"
	}
	if e.Path != "" {
		s = fmt.Sprintf("%s: path %q", s, e.Path)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind, so `errors.Is(err, &Error{Kind: NotFound})`
// holds for any NotFound regardless of backend or cause.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error with a formatted message and no cause.
func New(kind Kind, store, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Store: store, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and context to an underlying cause.
func Wrap(kind Kind, store, path string, err error) *Error {
	return &Error{Kind: kind, Store: store, Path: path, Err: err}
}

// KindOf extracts the kind from any error in the chain, defaulting to Generic.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsTransient reports whether the error is worth retrying: timeouts and
// Generic errors explicitly marked retryable. Configuration, state-machine,
// and precondition failures are never transient.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == Timeout {
		return true
	}
	return e.Kind == Generic && e.Retryable
}

// FromHTTPStatus maps an HTTP response status to an error, used by the REST
// backends (Azure, generic HTTP). 2xx statuses must not be passed in.
func FromHTTPStatus(status int, store, path, msg string) *Error {
	e := &Error{Store: store, Path: path, Msg: msg}
	switch status {
	case http.StatusNotFound:
		e.Kind = NotFound
	case http.StatusNotModified:
		e.Kind = NotModified
	case http.StatusPreconditionFailed:
		e.Kind = Precondition
	case http.StatusConflict:
		e.Kind = AlreadyExists
	case http.StatusUnauthorized:
		e.Kind = Unauthenticated
	case http.StatusForbidden:
		e.Kind = PermissionDenied
	case http.StatusRequestTimeout:
		e.Kind = Timeout
	case http.StatusNotImplemented:
		e.Kind = NotSupported
	default:
		e.Kind = Generic
		if status >= 500 || status == http.StatusTooManyRequests {
			e.Retryable = true
		}
	}
	if e.Msg == "" {
		e.Msg = fmt.Sprintf("unexpected status %d", status)
	}
	return e
}
