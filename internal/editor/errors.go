package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrInFlight is returned when a generation or revision is requested while
	// one is already running for the same field.
	ErrInFlight = errors.New("generation already in progress")
	// ErrAcceptInFlight is returned when Accept is called while the previous
	// accept of the same field is still being persisted.
	ErrAcceptInFlight = errors.New("accept already in progress")
	// ErrUnknownField is returned for field ids the workspace does not hold.
	ErrUnknownField = errors.New("unknown field")
)

// ValidationError rejects an operation before any collaborator is called.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CollaboratorError wraps a failure of the generator or the repository.
// Session state has already been recovered when it is returned.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
