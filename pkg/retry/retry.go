// Package retry contains the retry/backoff controller,
// that repeats an operation until it succeeds or fails with a terminal error.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bluenviron/rtspengine/pkg/liberrors"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 10 * time.Second
	defaultMultiplier  = 2
)

// ErrRetryExhausted is returned when all attempts have failed.
type ErrRetryExhausted struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e ErrRetryExhausted) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the error of the last attempt.
func (e ErrRetryExhausted) Unwrap() error {
	return e.Err
}

// Policy is a retry policy.
type Policy struct {
	// Maximum number of attempts, including the first one.
	// It defaults to 3.
	MaxAttempts int

	// Delay after the first failed attempt.
	// It defaults to 500ms.
	BaseDelay time.Duration

	// Maximum delay between attempts.
	// It defaults to 10 seconds.
	MaxDelay time.Duration

	// Factor applied to the delay after every failed attempt.
	// It defaults to 2.
	Multiplier float64

	// Delays are randomized by up to ±JitterFraction of their value.
	// It must be between 0 and 1.
	JitterFraction float64

	// Timeout of a single attempt. Zero means no timeout.
	AttemptTimeout time.Duration

	// Function that decides whether an error is retryable.
	// It defaults to liberrors.IsRetryable.
	Retryable func(error) bool

	// Called before waiting for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p Policy) withDefaults() (Policy, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.Retryable == nil {
		p.Retryable = liberrors.IsRetryable
	}

	if p.Multiplier < 1 {
		return Policy{}, liberrors.ErrConfiguration{
			Field: "Multiplier",
			Err:   fmt.Errorf("must be greater or equal than 1, got %v", p.Multiplier),
		}
	}

	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return Policy{}, liberrors.ErrConfiguration{
			Field: "JitterFraction",
			Err:   fmt.Errorf("must be between 0 and 1, got %v", p.JitterFraction),
		}
	}

	return p, nil
}

// Delay returns the delay that follows the n-th failed attempt, before jitter.
// It is min(MaxDelay, BaseDelay * Multiplier^(n-1)).
func (p Policy) Delay(n int) time.Duration {
	p, err := p.withDefaults()
	if err != nil || n < 1 {
		return 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) jitteredDelay(n int) time.Duration {
	d := p.Delay(n)
	if p.JitterFraction == 0 {
		return d
	}

	j := float64(d) * p.JitterFraction * (2*rand.Float64() - 1)
	return d + time.Duration(j)
}

// Do runs op until it succeeds, fails with an error that is not retryable,
// or the maximum number of attempts is reached.
// Canceling ctx interrupts any pending delay.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	p, err := p.withDefaults()
	if err != nil {
		return zero, err
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := runAttempt(ctx, p.AttemptTimeout, attempt, op)
		if err == nil {
			return v, nil
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if !p.Retryable(err) {
			return zero, err
		}

		if attempt >= p.MaxAttempts {
			return zero, ErrRetryExhausted{Attempts: attempt, Err: err}
		}

		delay := p.jitteredDelay(attempt)

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		}
	}
}

func runAttempt[T any](
	ctx context.Context,
	timeout time.Duration,
	attempt int,
	op func(ctx context.Context) (T, error),
) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, attemptCtxCancel := context.WithTimeout(ctx, timeout)
	defer attemptCtxCancel()

	v, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && attemptCtx.Err() != nil {
		return v, liberrors.ErrTimeout{Op: fmt.Sprintf("attempt %d", attempt)}
	}
	return v, err
}
