// Package apperr defines the error-kind taxonomy used across challengectl.
//
// Every component method returns an error that is either nil, one of the
// kinds below (constructed with New or Wrap), or an opaque error that the
// HTTP surface must treat as Internal. Kinds carry no stack trace or cause
// chain beyond what Wrap gives you; they exist to answer one
// question at the edge: which HTTP status does this become.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories from the external error taxonomy.
type Kind string

const (
	AuthMissing     Kind = "auth_missing"
	AuthInvalid     Kind = "auth_invalid"
	PermissionDenied Kind = "permission_denied"
	CSRFDenied      Kind = "csrf_denied"
	Validation      Kind = "validation_error"
	Conflict        Kind = "conflict"
	NotFound        Kind = "not_found"
	PayloadTooLarge Kind = "payload_too_large"
	RateLimited     Kind = "rate_limited"
	Internal        Kind = "internal"
)

// statusForKind maps each kind to its HTTP status code.
var statusForKind = map[Kind]int{
	AuthMissing:      http.StatusUnauthorized,
	AuthInvalid:      http.StatusUnauthorized,
	PermissionDenied: http.StatusForbidden,
	CSRFDenied:       http.StatusForbidden,
	Validation:       http.StatusBadRequest,
	Conflict:         http.StatusConflict,
	NotFound:         http.StatusNotFound,
	PayloadTooLarge:  http.StatusRequestEntityTooLarge,
	RateLimited:      http.StatusTooManyRequests,
	Internal:         http.StatusInternalServerError,
}

// Error is an apperr-tagged error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind, preserving it for errors.Is/As.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal if err is not a
// tagged *Error (or is nil, in which case it returns "" — callers should
// check err != nil first).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// StatusCode returns the HTTP status that should be written for err.
func StatusCode(err error) int {
	if status, ok := statusForKind[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
