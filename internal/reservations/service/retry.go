package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/config"
	apperrors "rsvp/pkg/errors"
)

const maxRetryDelay = 100 * time.Millisecond

// retryPolicy bounds how often a decision is re-run after losing a
// version race.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
}

func newRetryPolicy(cfg *config.Config) retryPolicy {
	attempts := cfg.AdmissionMaxRetries
	if attempts <= 0 {
		attempts = config.DefaultAdmissionMaxRetries
	}
	return retryPolicy{attempts: attempts, baseDelay: cfg.AdmissionRetryBaseDelay}
}

// delay grows exponentially from baseDelay and is jittered over [d/2, 3d/2).
func (p retryPolicy) delay(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	d := p.baseDelay << min(attempt-1, 16)
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d/2 + rand.N(d)
}

// conflictExhausted carries the last version conflict once the budget is spent.
type conflictExhausted struct {
	attempts int
	err      error
}

func (e *conflictExhausted) Error() string {
	return e.err.Error()
}

func (e *conflictExhausted) Unwrap() error {
	return e.err
}

// retry re-runs fn from scratch while it fails with a version conflict.
// Any other error, and any decision, ends the loop.
func retry[T any](ctx context.Context, p retryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, reservationserrors.ErrVersionConflict) {
			return zero, err
		}
		lastErr = err
	}
	return zero, &conflictExhausted{attempts: p.attempts, err: lastErr}
}

// mapStoreError turns repository failures into the public error taxonomy.
func mapStoreError(err error, eventID string) error {
	if apperrors.IsAppError(err) {
		return err
	}

	var exhausted *conflictExhausted
	switch {
	case errors.As(err, &exhausted):
		return apperrors.TransientConflict(eventID, exhausted.attempts, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.Timeout("Request deadline exceeded", err)
	case errors.Is(err, reservationserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Event", eventID)
	case errors.Is(err, reservationserrors.ErrInvariantViolation):
		return apperrors.Conflict("Capacity cannot go below current occupancy", map[string]any{"event_id": eventID})
	case errors.Is(err, reservationserrors.ErrInvalidTransition):
		return apperrors.InvalidInput("Invalid lifecycle transition")
	default:
		return apperrors.StoreUnavailable("Capacity store unavailable", err)
	}
}
