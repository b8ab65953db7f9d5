package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrNotADraft is returned when a draft-only operation targets a sent message.
	ErrNotADraft = errors.New("store: not a draft")

	// ErrInvalidArgument is returned for unknown folders, flags, enum values,
	// and non-positive pagination.
	ErrInvalidArgument = errors.New("store: invalid argument")

	// ErrValidation is the sentinel wrapped by ValidationError.
	ErrValidation = errors.New("store: validation failed")

	// ErrInvalidID is returned when an ID has the wrong shape for the backend.
	// Backends translate it to ErrNotFound before returning from lookups.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrFilterInvalid is returned when a filter cannot be evaluated by a backend.
	ErrFilterInvalid = errors.New("store: invalid filter")

	// ErrConflict is returned when an optimistic update keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// ValidationError names every required field that is missing or invalid.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: missing required fields: %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Has reports whether field is among the named fields.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsNotADraft(err error) bool {
	return errors.Is(err, ErrNotADraft)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// MissingFields returns the fields named by a ValidationError in err's chain.
func MissingFields(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
