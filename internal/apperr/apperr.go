// Package apperr defines the operational error kinds surfaced to API
// clients. Anything that is not an *Error is treated as an internal fault
// and must not leak detail outward.
package apperr

import (
	"errors"
	"net/http"
)

// Kind tags an operational error category.
type Kind string

const (
	KindDuplicateEmail     Kind = "duplicate_email"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindPasswordMismatch   Kind = "password_mismatch"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindNotificationFailed Kind = "notification_failed"
	KindMalformedToken     Kind = "malformed_token"
	KindInvalidInput       Kind = "invalid_input"
)

// Error is an expected, user-facing failure. It carries the kind, a
// human-readable message, and the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	// Err is the underlying cause, kept for server-side logs only.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match two operational errors of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, message string, status int) *Error {
	return &Error{Kind: kind, Message: message, Status: status}
}

// Wrap attaches an underlying cause to a copy of the error.
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Status: e.Status, Err: err}
}

// Predefined operational errors. Handlers serialize these directly;
// services return them (optionally wrapped around a cause).
var (
	ErrDuplicateEmail = New(KindDuplicateEmail,
		"an account with this email already exists", http.StatusConflict)
	ErrInvalidCredentials = New(KindInvalidCredentials,
		"incorrect email or password", http.StatusUnauthorized)
	ErrPasswordMismatch = New(KindPasswordMismatch,
		"passwords do not match", http.StatusBadRequest)
	ErrUnauthenticated = New(KindUnauthenticated,
		"you are not logged in, please log in to get access", http.StatusUnauthorized)
	ErrForbidden = New(KindForbidden,
		"you do not have permission to perform this action", http.StatusForbidden)
	ErrUserNotFound = New(KindNotFound,
		"there is no user with that email address", http.StatusNotFound)
	ErrResetTokenInvalid = New(KindNotFound,
		"token is invalid or has expired", http.StatusBadRequest)
	ErrNotificationFailed = New(KindNotificationFailed,
		"there was an error sending the email, please try again later", http.StatusInternalServerError)
	ErrMalformedToken = New(KindMalformedToken,
		"malformed authentication token", http.StatusUnauthorized)
)

// From extracts the operational error, if any.
func From(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
