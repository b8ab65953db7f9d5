// Package retry runs an operation again after transient failures, waiting
// with exponential backoff between attempts.
//
// It is used for establishing backend connections. Message operations are
// never retried internally; callers decide with campusmail.IsRetryableError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// Attempts is the total number of calls, including the first (default: 3).
	Attempts int

	// InitialBackoff is the delay before the second attempt (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts (default: 10s).
	MaxBackoff time.Duration

	// Multiplier grows the delay after each attempt (default: 2.0).
	Multiplier float64

	// Jitter randomizes each delay by up to this fraction, clamped to [0, 1].
	Jitter float64

	// Retryable reports whether err is worth another attempt.
	// If nil, every error except those marked Permanent is retried.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when a field is left zero.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

var (
	// ErrExhausted is wrapped when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrPermanent is wrapped when an attempt failed with a non-retryable error.
	ErrPermanent = errors.New("retry: permanent failure")
)

// Error reports the last failure of a retried operation.
// errors.Is matches both the reason (ErrExhausted, ErrPermanent, or a context
// error) and the last cause.
type Error struct {
	Attempts int
	Reason   error
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Reason, e.Attempts, e.Cause)
}

func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Cause}
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &Error{Attempts: attempt - 1, Reason: err, Cause: last}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.Retryable(last) {
			return &Error{Attempts: attempt, Reason: ErrPermanent, Cause: last}
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Attempts: attempt, Reason: ctx.Err(), Cause: last}
		case <-timer.C:
		}
	}
	return &Error{Attempts: p.Attempts, Reason: ErrExhausted, Cause: last}
}

// backoff returns the wait after the given 1-based attempt.
func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = isRetryable
	}
	return p
}

// Permanent marks err so that Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
