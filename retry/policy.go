// Package retry runs fallible work under an explicit retry policy.
//
// A Policy says how many attempts are allowed, how long each may take and how
// long to wait between them. A Classifier decides, per error, whether another
// attempt is worthwhile. Both are plain values so callers (and tests) can
// substitute them freely, including the sleep function.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Backoff types accepted by ParseBackoff.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
	BackoffNone        = "none"
)

// BackoffFunc returns the delay before the next attempt, given the number of
// attempts that have failed so far (starting at 1).
type BackoffFunc func(failed int) time.Duration

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fixed waits the same delay between every attempt.
func Fixed(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Linear waits base, 2*base, 3*base, ... capped at max. A zero max disables the cap.
func Linear(base, max time.Duration) BackoffFunc {
	return func(failed int) time.Duration {
		return capDelay(base*time.Duration(failed), max)
	}
}

// Exponential waits base, 2*base, 4*base, ... capped at max. A zero max disables the cap.
func Exponential(base, max time.Duration) BackoffFunc {
	return func(failed int) time.Duration {
		if failed < 1 {
			failed = 1
		}
		d := float64(base) * math.Pow(2, float64(failed-1))
		if d > math.MaxInt64 {
			d = math.MaxInt64
		}
		return capDelay(time.Duration(d), max)
	}
}

// None retries immediately.
func None() BackoffFunc {
	return func(int) time.Duration { return 0 }
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// ParseBackoff builds a BackoffFunc from its configured name.
func ParseBackoff(kind string, base, max time.Duration) (BackoffFunc, error) {
	switch kind {
	case BackoffFixed:
		return Fixed(base), nil
	case BackoffLinear:
		return Linear(base, max), nil
	case BackoffExponential, "":
		return Exponential(base, max), nil
	case BackoffNone:
		return None(), nil
	default:
		return nil, fmt.Errorf("unknown backoff type %q", kind)
	}
}

// Policy bounds how work is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff computes the wait between attempts. Nil means no wait.
	Backoff BackoffFunc
	// AttemptTimeout bounds each attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep SleepFunc
}

// DefaultPolicy allows 3 attempts with exponential backoff from 1s capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second, 30*time.Second),
	}
}

// WithAttemptTimeout returns a copy of p with the given per-attempt timeout.
func (p Policy) WithAttemptTimeout(d time.Duration) Policy {
	p.AttemptTimeout = d
	return p
}

// Budget returns the longest a Do call under this policy can take when every
// attempt runs to its timeout.
func (p Policy) Budget() time.Duration {
	attempts := p.attempts()
	total := p.AttemptTimeout * time.Duration(attempts)
	for failed := 1; failed < attempts; failed++ {
		total += p.delay(failed)
	}
	return total
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) delay(failed int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(failed)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
