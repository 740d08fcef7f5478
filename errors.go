package authsession

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the backend rejects a bearer token.
	ErrUnauthorized = errors.New("token rejected by backend")

	// ErrNoSession is returned when a collaborator reported success without a usable session.
	ErrNoSession = errors.New("no session returned")

	// ErrSuperseded is returned when a sign-out happened while an action was in flight.
	ErrSuperseded = errors.New("superseded by sign-out")

	// ErrUnmounted is returned by hook actions that resolved after Unmount.
	ErrUnmounted = errors.New("hook unmounted")

	// ErrActionInFlight is returned when a sign-in or sign-up is already running on the same hook.
	ErrActionInFlight = errors.New("another sign-in or sign-up is in progress")

	// ErrNotConfigured is returned when a collaborator lacks the endpoint an operation needs.
	ErrNotConfigured = errors.New("operation not configured")
)

// Error codes carried by AuthError.
const (
	ErrCodeInvalidCreds = "invalid_credentials"
	ErrCodeEmailExists  = "email_exists"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeServer       = "server_error"
	ErrCodeProvider     = "provider_error"
	ErrCodeNetwork      = "network_error"
	ErrCodeUnknown      = "unknown"
)

// AuthError is a collaborator failure with a human-readable message.
// Message is what ends up in a hook's State.Error.
type AuthError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

// NewAuthError creates an AuthError without an underlying cause.
func NewAuthError(code, message string, status int) *AuthError {
	return &AuthError{Code: code, Message: message, Status: status}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Message returns the text to show a user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return err.Error()
}
