package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request missing a required field.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an operation whose target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks a failure to reach the underlying store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Validation returns an error wrapping ErrValidation.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// TaskNotFound returns an error wrapping ErrNotFound for the given task id.
func TaskNotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// Unavailable wraps err as ErrStoreUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
