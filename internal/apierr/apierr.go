// Package apierr defines the client-visible error taxonomy. Every failure that
// leaves the process carries exactly one Kind and a human readable message;
// wrapped causes stay server-side.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, client-distinguishable error code.
type Kind string

const (
	KindUnauthenticated        Kind = "UNAUTHENTICATED"
	KindInvalidToken           Kind = "INVALID_TOKEN"
	KindInvalidCredentials     Kind = "INVALID_CREDENTIALS"
	KindForbidden              Kind = "FORBIDDEN"
	KindMissingFields          Kind = "MISSING_FIELDS"
	KindInvalidEmail           Kind = "INVALID_EMAIL"
	KindWeakPassword           Kind = "WEAK_PASSWORD"
	KindInvalidDepartment      Kind = "INVALID_DEPARTMENT"
	KindInvalidRequest         Kind = "INVALID_REQUEST"
	KindNotFound               Kind = "NOT_FOUND"
	KindEmailAlreadyRegistered Kind = "EMAIL_ALREADY_REGISTERED"
	KindClaimsAssignmentFailed Kind = "CLAIMS_ASSIGNMENT_FAILED"
	KindProviderUnavailable    Kind = "PROVIDER_UNAVAILABLE"
	KindStoreUnavailable       Kind = "STORE_UNAVAILABLE"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// HTTPStatus maps the kind to the status code used by the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated, KindInvalidToken, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindMissingFields, KindInvalidEmail, KindWeakPassword, KindInvalidDepartment, KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindEmailAlreadyRegistered:
		return http.StatusConflict
	case KindProviderUnavailable, KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the whole request is safe and may succeed.
func (k Kind) Retryable() bool {
	return k == KindProviderUnavailable || k == KindStoreUnavailable
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so callers may write
// errors.Is(err, apierr.New(apierr.KindForbidden, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of err, defaulting to KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err. Unclassified errors get a
// generic message so their text never reaches a client.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
