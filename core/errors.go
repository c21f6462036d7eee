package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist in
	// storage and the operation required it to.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfigNotFound is returned when a config lookup misses.
	ErrConfigNotFound = errors.New("config not found")

	// ErrMessageNotFound is returned when a message lookup misses.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSessionArchived is returned when an operation targets a session in
	// its terminal state.
	ErrSessionArchived = errors.New("session is archived")

	// ErrInvalidTransition is returned for illegal status changes.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrAlreadyExists guards against duplicate record creation.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrEngineTimeout is returned when a model call exceeds the configured
	// timeout.
	ErrEngineTimeout = errors.New("engine call timed out")
)

// ValidationError reports a malformed config rejected before engine
// construction.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// ConstructionError reports that an engine failed to initialize (bad
// credentials, unreachable provider, timeout). The pool surfaces it to the
// caller of InitializeEngine and leaves the pool unchanged.
type ConstructionError struct {
	SessionID string
	Provider  string
	Err       error
}

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	return fmt.Sprintf("engine construction failed for session %s (provider %s): %v", e.SessionID, e.Provider, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ConstructionError) Unwrap() error { return e.Err }

// StorageError wraps a failed repository call with the operation name.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StorageError) Unwrap() error { return e.Err }
