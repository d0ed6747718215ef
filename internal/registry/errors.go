package registry

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("registry: invalid input")
	ErrDuplicateUsername = errors.New("registry: username is already taken")
	ErrNotFound          = errors.New("registry: not found")
	ErrOwnership         = errors.New("registry: record owned by another account")
	ErrStore             = errors.New("registry: store failure")
)

// ValidationError names the offending field so callers can correct their input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// storeErr tags a backing-store failure so the boundary can hide its detail.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
