// Package apierr defines the typed error taxonomy from spec.md §7 and how
// each kind maps onto an HTTP status and the admin envelope's error code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds spec.md §7 enumerates.
type Kind string

const (
	KindPoolEmpty               Kind = "pool_empty"
	KindRefreshFailed            Kind = "refresh_failed"
	KindProjectResolutionFailed  Kind = "project_resolution_failed"
	KindUnauthorized             Kind = "unauthorized"
	KindBadRequest               Kind = "bad_request"
	KindNotFound                 Kind = "not_found"
	KindInternal                 Kind = "internal"
	KindArchiveUnavailable       Kind = "archive_disabled"
)

// Error is a typed error carrying a Kind plus an optional wrapped cause,
// so callers can branch with errors.Is/errors.As instead of string
// matching on Error().
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apierr.KindRefreshFailed-shaped sentinel) style
// matching by comparing Kind when the target is also an *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// PoolEmpty, RefreshFailed, ProjectResolutionFailed, Unauthorized,
// BadRequest, NotFound and Internal are convenience constructors matching
// the table in spec.md §7.
func PoolEmpty() *Error { return New(KindPoolEmpty, "no accounts available") }

func RefreshFailed(cause error) *Error {
	return Wrap(KindRefreshFailed, "oauth token refresh failed", cause)
}

func ProjectResolutionFailed(cause error) *Error {
	return Wrap(KindProjectResolutionFailed, "project id resolution failed", cause)
}

func Unauthorized() *Error { return New(KindUnauthorized, "Unauthorized") }

func BadRequest(message string) *Error { return New(KindBadRequest, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Internal(cause error) *Error { return Wrap(KindInternal, "internal error", cause) }

func ArchiveUnavailable() *Error {
	return New(KindArchiveUnavailable, "request archive is not configured")
}

// HTTPStatus maps a Kind to the status code spec.md §7 documents.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindPoolEmpty:
		return http.StatusServiceUnavailable
	case KindRefreshFailed, KindProjectResolutionFailed:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindArchiveUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As is a small helper so callers don't need to import "errors" just to
// pull a *Error out of an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
