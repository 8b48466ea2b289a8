// Package racer contains the connection racer, that attempts several
// candidate connections with bounded concurrency and keeps the first
// one that succeeds.
package racer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/rtspengine/pkg/liberrors"
)

const (
	defaultMaxInFlight    = 4
	defaultAttemptTimeout = 10 * time.Second
)

// Outcome is the outcome of an attempt.
type Outcome int

// outcomes.
const (
	OutcomeWon Outcome = iota
	OutcomeFailed
	OutcomeDiscarded
	OutcomeCancelled
)

var outcomeLabels = map[Outcome]string{
	OutcomeWon:       "won",
	OutcomeFailed:    "failed",
	OutcomeDiscarded: "discarded",
	OutcomeCancelled: "cancelled",
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if l, ok := outcomeLabels[o]; ok {
		return l
	}
	return "unknown"
}

// CandidateError is the error of a single candidate.
type CandidateError struct {
	Index     int
	Candidate string
	Err       error
}

// Error implements the error interface.
func (e CandidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Candidate, e.Err)
}

// Unwrap returns the wrapped error.
func (e CandidateError) Unwrap() error {
	return e.Err
}

// ErrAllFailed is returned when all candidates fail.
type ErrAllFailed struct {
	Errors []CandidateError
}

// Error implements the error interface.
func (e ErrAllFailed) Error() string {
	if len(e.Errors) == 0 {
		return "no candidates available"
	}

	tmp := make([]string, len(e.Errors))
	for i, ce := range e.Errors {
		tmp[i] = ce.Error()
	}
	return "all candidates failed: " + strings.Join(tmp, "; ")
}

// Unwrap returns the candidate errors.
func (e ErrAllFailed) Unwrap() []error {
	ret := make([]error, len(e.Errors))
	for i, ce := range e.Errors {
		ret[i] = ce
	}
	return ret
}

// ErrRaceTimeout is returned when the overall timeout elapses
// before any candidate succeeds.
type ErrRaceTimeout struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e ErrRaceTimeout) Error() string {
	return fmt.Sprintf("no candidate succeeded within %v", e.Timeout)
}

// Unwrap returns a timeout error, in order to make the race retryable.
func (e ErrRaceTimeout) Unwrap() error {
	return liberrors.ErrTimeout{Op: "race"}
}

// Result is the result of a race.
type Result[C any, T io.Closer] struct {
	Index     int
	Candidate C
	Conn      T
	Duration  time.Duration
}

// Racer attempts candidates concurrently and returns the first one that succeeds.
// Candidates are launched in the order they are provided.
type Racer[C any, T io.Closer] struct {
	// Maximum number of attempts in flight.
	// It defaults to 4.
	MaxInFlight int

	// Timeout of a single attempt.
	// It defaults to 10 seconds.
	AttemptTimeout time.Duration

	// Timeout of the whole race. Zero means no timeout.
	OverallTimeout time.Duration

	// Function that establishes a connection with a candidate.
	// It must return as soon as ctx is canceled.
	Dial func(ctx context.Context, candidate C) (T, error)

	// Called at the end of every attempt.
	OnAttempt func(candidate C, outcome Outcome, err error)
}

type attemptResult[T io.Closer] struct {
	index     int
	conn      T
	err       error
	cancelled bool
	duration  time.Duration
}

// Race attempts candidates and returns the first connection established.
// Connections established by other candidates are closed before Race returns.
func (r *Racer[C, T]) Race(ctx context.Context, candidates []C) (*Result[C, T], error) {
	if len(candidates) == 0 {
		return nil, ErrAllFailed{}
	}

	if r.Dial == nil {
		return nil, liberrors.ErrConfiguration{Field: "Dial", Err: fmt.Errorf("not provided")}
	}

	maxInFlight := r.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}

	attemptTimeout := r.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}

	raceCtx, raceCtxCancel := context.WithCancel(ctx)
	defer raceCtxCancel()

	if r.OverallTimeout > 0 {
		var cancel context.CancelFunc
		raceCtx, cancel = context.WithTimeout(raceCtx, r.OverallTimeout)
		defer cancel()
	}

	results := make(chan attemptResult[T], len(candidates))
	sem := make(chan struct{}, maxInFlight)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for i, candidate := range candidates {
			select {
			case sem <- struct{}{}:
			case <-raceCtx.Done():
				results <- attemptResult[T]{index: i, err: raceCtx.Err(), cancelled: true}
				continue
			}

			wg.Add(1)
			go func(i int, candidate C) {
				defer wg.Done()
				defer func() { <-sem }()
				results <- r.attempt(raceCtx, i, candidate, attemptTimeout)
			}(i, candidate)
		}
	}()

	var winner *attemptResult[T]
	var errs []CandidateError
	cancelled := 0

	for range candidates {
		res := <-results

		switch {
		case res.err == nil && winner == nil:
			winner = &res
			raceCtxCancel()
			r.onAttempt(candidates[res.index], OutcomeWon, nil)

		case res.err == nil:
			res.conn.Close() //nolint:errcheck
			r.onAttempt(candidates[res.index], OutcomeDiscarded, nil)

		case winner != nil || res.cancelled:
			cancelled++
			r.onAttempt(candidates[res.index], OutcomeCancelled, res.err)

		default:
			errs = append(errs, CandidateError{
				Index:     res.index,
				Candidate: fmt.Sprint(candidates[res.index]),
				Err:       res.err,
			})
			r.onAttempt(candidates[res.index], OutcomeFailed, res.err)
		}
	}

	wg.Wait()

	if winner != nil {
		return &Result[C, T]{
			Index:     winner.index,
			Candidate: candidates[winner.index],
			Conn:      winner.conn,
			Duration:  winner.duration,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cancelled > 0 && errors.Is(raceCtx.Err(), context.DeadlineExceeded) {
		return nil, ErrRaceTimeout{Timeout: r.OverallTimeout}
	}

	return nil, ErrAllFailed{Errors: errs}
}

func (r *Racer[C, T]) attempt(
	raceCtx context.Context,
	index int,
	candidate C,
	timeout time.Duration,
) attemptResult[T] {
	attemptCtx, attemptCtxCancel := context.WithTimeout(raceCtx, timeout)
	defer attemptCtxCancel()

	start := time.Now()
	conn, err := r.Dial(attemptCtx, candidate)
	res := attemptResult[T]{
		index:    index,
		duration: time.Since(start),
	}

	if err != nil {
		switch {
		case raceCtx.Err() != nil:
			res.cancelled = true

		// the attempt timed out while the race is still running
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			err = liberrors.ErrTimeout{Op: fmt.Sprintf("attempt %v", candidate)}
		}
		res.err = err
		return res
	}

	res.conn = conn
	return res
}

func (r *Racer[C, T]) onAttempt(candidate C, outcome Outcome, err error) {
	if r.OnAttempt != nil {
		r.OnAttempt(candidate, outcome, err)
	}
}
