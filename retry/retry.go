package retry

import (
	"context"
	"fmt"
	"time"
)

// Outcome describes how a Do call went.
type Outcome struct {
	Attempts int
	Elapsed  time.Duration
	// Errors holds the error of every failed attempt, in order.
	Errors []error
}

// ExhaustedError is returned by Do when it gives up. It wraps the last
// attempt's error so errors.Is and errors.As reach the original.
type ExhaustedError struct {
	Attempts int
	// Retryable is false when Do stopped because the error was terminal
	// rather than because the attempt budget ran out.
	Retryable bool
	Err       error
}

func (e *ExhaustedError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("terminal error on attempt %d: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type attemptResult[T any] struct {
	value T
	err   error
}

// Do calls fn until it succeeds, the classifier declares its error terminal,
// the attempt budget is spent or ctx is done. Attempts are numbered from 1.
//
// Each attempt runs with its own context bounded by p.AttemptTimeout. An
// attempt that overruns is abandoned and counts as a retryable
// *AttemptTimeoutError; fn should honour its context so abandoned attempts
// release their resources.
func Do[T any](ctx context.Context, p Policy, c Classifier, fn func(ctx context.Context, attempt int) (T, error)) (T, Outcome, error) {
	if c == nil {
		c = DefaultClassifier
	}

	var (
		zero    T
		outcome Outcome
		start   = time.Now()
		limit   = p.attempts()
	)

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt

		value, err := runAttempt(ctx, p, attempt, fn)
		outcome.Elapsed = time.Since(start)
		if err == nil {
			return value, outcome, nil
		}
		outcome.Errors = append(outcome.Errors, err)

		if ctx.Err() != nil {
			return zero, outcome, &ExhaustedError{Attempts: attempt, Err: err}
		}

		decision := c.Classify(err)
		if !decision.Retryable {
			return zero, outcome, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if attempt >= limit {
			return zero, outcome, &ExhaustedError{Attempts: attempt, Retryable: true, Err: err}
		}

		delay := decision.Delay
		if delay <= 0 {
			delay = p.delay(attempt)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			outcome.Elapsed = time.Since(start)
			return zero, outcome, &ExhaustedError{Attempts: attempt, Err: err}
		}
	}
}

func runAttempt[T any](ctx context.Context, p Policy, attempt int, fn func(context.Context, int) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return fn(ctx, attempt)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := fn(attemptCtx, attempt)
		done <- attemptResult[T]{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return zero, &AttemptTimeoutError{Attempt: attempt, Timeout: p.AttemptTimeout}
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &AttemptTimeoutError{Attempt: attempt, Timeout: p.AttemptTimeout}
	}
}
