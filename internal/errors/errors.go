package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the session and authorization lifecycle
var (
	// Login-time errors, surfaced to the login flow
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAssertion   = errors.New("invalid external assertion")

	// Token-time errors, converted into a forced sign-out
	ErrRefreshInvalid = errors.New("refresh token invalid")
	ErrRefreshReused  = errors.New("refresh token reused after rotation")
	ErrInvalidToken   = errors.New("invalid access token")

	// Session-time errors, converted into a forced sign-out
	ErrSessionExpired  = errors.New("session expired")
	ErrUnauthenticated = errors.New("no active session")

	// Authorization-time errors, handled entirely at the gate
	ErrUnauthorized = errors.New("unauthorized")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need only this package
func New(text string) error {
	return errors.New(text)
}

// Join is errors.Join, re-exported so callers need only this package
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// ForcesSignOut reports whether err must end the session rather than reach
// application code.
func ForcesSignOut(err error) bool {
	return errors.Is(err, ErrRefreshInvalid) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrRefreshReused)
}
