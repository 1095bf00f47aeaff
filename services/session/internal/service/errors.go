package service

import "errors"

// Validation-class errors: expected, recoverable, returned to the caller
// without retry.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session not active")
	ErrAlreadyInactive  = errors.New("session already inactive")
	ErrNoActiveSession  = errors.New("no active session")
)

// Security-class errors: terminal for the triggering request. The service
// performs the blocking side effect before returning them, so they hold even
// if the caller drops the error.
var (
	ErrSessionsBlocked   = errors.New("sessions blocked for user")
	ErrConcurrentSession = errors.New("concurrent session detected")
	ErrUnauthorized      = errors.New("unauthorized")
)

// ErrUnavailable wraps infrastructure failures (store unreachable, signing
// failure) so transports can answer 503 instead of pretending the caller is
// unauthorized.
var ErrUnavailable = errors.New("session service unavailable")
