package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids
	ErrSessionNotFound = errors.New("session not found")
	// ErrShuttingDown is returned when a session is requested during shutdown
	ErrShuttingDown = errors.New("service is shutting down")
)

// InputError is a request parameter the service could not accept
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}
