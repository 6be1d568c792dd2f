// Package retry runs operations under a bounded retry policy with fixed or exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Kind selects how the delay between attempts evolves.
type Kind int

const (
	// Fixed waits Base between every attempt.
	Fixed Kind = iota
	// Exponential starts at Base and doubles up to Cap.
	Exponential
)

func (k Kind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ErrAttemptsExhausted is wrapped into the error returned when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times an operation is tried and how long to wait in between.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 are treated as 1.
	MaxAttempts int
	Kind        Kind
	Base        time.Duration
	// Cap bounds the exponential delay. Ignored for Fixed.
	Cap time.Duration
}

// FixedPolicy returns a policy with a constant delay between attempts.
func FixedPolicy(maxAttempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Kind: Fixed, Base: delay}
}

// ExponentialPolicy returns a policy whose delay doubles from base up to maxDelay.
func ExponentialPolicy(maxAttempts int, base, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Kind: Exponential, Base: base, Cap: maxDelay}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.Base < 0 {
		return fmt.Errorf("retry base delay must not be negative, got %v", p.Base)
	}
	if p.Kind == Exponential && p.Cap > 0 && p.Cap < p.Base {
		return fmt.Errorf("retry cap %v is below base %v", p.Cap, p.Base)
	}
	return nil
}

func (p Policy) newBackOff() backoff.BackOff {
	if p.Kind == Exponential {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = p.Base
		bo.Multiplier = 2
		bo.RandomizationFactor = 0
		if p.Cap > 0 {
			bo.MaxInterval = p.Cap
		}
		return bo
	}
	return backoff.NewConstantBackOff(p.Base)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the context ends, or the
// policy runs out of attempts. attempt is 1-based. The last error is always wrapped
// into the result.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	bo := p.newBackOff()
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w: %w", op, ctxErr, err)
		}
		if attempt == maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if logger != nil {
			logger.WarnContext(ctx, "retry_attempt_failed",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
				slog.String("backoff_kind", p.Kind.String()),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w: %w", op, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrAttemptsExhausted, maxAttempts, lastErr)
}
