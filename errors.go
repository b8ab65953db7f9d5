package campusmail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/campusmail/store"
)

// Sentinel errors for the campusmail package.
// Use errors.Is() to check for these errors.
//
// Mailbox operations never return raw store or driver errors. Store errors
// are translated into these sentinels, each of which wraps the matching
// store-level sentinel, so errors.Is(err, store.ErrNotFound) also holds.
var (
	// ErrNotFound is returned when a message does not exist or is not
	// visible to the caller.
	ErrNotFound = fmt.Errorf("campusmail: %w", store.ErrNotFound)

	// ErrNotADraft is returned when a draft-only operation targets a sent message.
	ErrNotADraft = fmt.Errorf("campusmail: %w", store.ErrNotADraft)

	// ErrInvalidArgument is returned for unknown folders, flags, or filter values.
	ErrInvalidArgument = fmt.Errorf("campusmail: %w", store.ErrInvalidArgument)

	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = fmt.Errorf("campusmail: %w", store.ErrValidation)

	// ErrConflict is returned when a draft kept changing underneath an edit
	// or send. Retrying the call is safe.
	ErrConflict = fmt.Errorf("campusmail: %w", store.ErrConflict)

	// ErrForbidden is returned when a participant attempts an action their
	// role in the message does not allow (e.g. the sender marking read).
	ErrForbidden = errors.New("campusmail: forbidden")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("campusmail: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("campusmail: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("campusmail: %w", store.ErrAlreadyConnected)

	// ErrInvalidUserID is returned when a client identity has an unusable ID.
	ErrInvalidUserID = errors.New("campusmail: invalid user id")

	// ErrIdentityNotFound is returned when the identity provider does not know a user.
	ErrIdentityNotFound = errors.New("campusmail: identity not found")

	// ErrIdentityProviderRequired is returned by ClientFor when no provider is configured.
	ErrIdentityProviderRequired = errors.New("campusmail: identity provider is required")

	// ErrAttachmentNotFound is returned when a message has no attachment with the given ID.
	ErrAttachmentNotFound = errors.New("campusmail: attachment not found")

	// ErrAttachmentSourceNotConfigured is returned when attachments are opened
	// without a configured AttachmentSource.
	ErrAttachmentSourceNotConfigured = errors.New("campusmail: attachment source not configured")
)

// ValidationError names the fields that are missing or invalid.
type ValidationError struct {
	Fields []string // The fields that failed validation
	Reason string   // Human-readable reason
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing required field"
	}
	return fmt.Sprintf("campusmail: validation failed for %s: %s", strings.Join(e.Fields, ", "), reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Has reports whether field is among the failed fields.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// IsValidationError checks if the error is a validation error and returns details.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func invalidField(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []string{field}, Reason: fmt.Sprintf(format, args...)}
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// The message was sent/read/deleted, but the event notification failed.
// Check the MessageID field to identify which message this applies to.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageSent", "MessageRead")
	MessageID string // The message ID the event was for
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("campusmail: event %s publish failed for message %s: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when event errors are fatal but you still want to know the
// operation itself succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// translate maps store errors onto the campusmail taxonomy so callers never
// see backend representations.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var sve *store.ValidationError
	switch {
	case errors.As(err, &sve):
		return &ValidationError{Fields: sve.Fields}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidID):
		return ErrNotFound
	case errors.Is(err, store.ErrNotADraft):
		return ErrNotADraft
	case errors.Is(err, store.ErrInvalidArgument):
		return invalidArgument(err)
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("campusmail: store failure: %w", err)
}

// invalidArgument rewraps a store invalid-argument error, keeping the detail
// that follows the store sentinel.
func invalidArgument(err error) error {
	msg, sentinel := err.Error(), store.ErrInvalidArgument.Error()
	i := strings.LastIndex(msg, sentinel)
	if i < 0 {
		return ErrInvalidArgument
	}
	detail := strings.TrimPrefix(msg[i+len(sentinel):], ": ")
	if detail == "" {
		return ErrInvalidArgument
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, detail)
}

// IsRetryableError determines if an error is worth retrying by the caller.
// Mailbox operations never retry internally. Permanent outcomes (not found,
// not a draft, validation, policy) return false.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	permanent := []error{
		ErrNotFound,
		ErrNotADraft,
		ErrInvalidArgument,
		ErrValidation,
		ErrForbidden,
		ErrInvalidUserID,
		ErrIdentityNotFound,
		ErrAttachmentNotFound,
		ErrAttachmentSourceNotConfigured,
		store.ErrNotFound,
		store.ErrNotADraft,
		store.ErrInvalidArgument,
		store.ErrValidation,
		context.Canceled,
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	var pe *PluginError
	if errors.As(err, &pe) && pe.Op == "BeforeSend" {
		return false
	}
	return true
}
