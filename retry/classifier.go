package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Decision is a classifier's verdict on an error.
type Decision struct {
	Retryable bool
	// Delay overrides the policy backoff when positive.
	Delay time.Duration
}

// Classifier decides whether an error is worth another attempt.
type Classifier interface {
	Classify(err error) Decision
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Decision

// Classify calls f(err).
func (f ClassifierFunc) Classify(err error) Decision {
	return f(err)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type transientError struct {
	err   error
	after time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// TransientAfter marks err as worth retrying no sooner than d from now.
func TransientAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err, after: d}
}

// AttemptTimeoutError reports that a single attempt ran past the policy's
// AttemptTimeout while the caller's context was still live.
type AttemptTimeoutError struct {
	Attempt int
	Timeout time.Duration
}

func (e *AttemptTimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *AttemptTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

type classifier struct {
	retryUnknown bool
}

// DefaultClassifier retries everything except errors marked Permanent and
// cancellation of the caller's context.
var DefaultClassifier Classifier = classifier{retryUnknown: true}

// StrictClassifier retries only errors known to be transient: those marked
// Transient, attempt timeouts and network timeouts.
var StrictClassifier Classifier = classifier{retryUnknown: false}

func (c classifier) Classify(err error) Decision {
	if err == nil || IsPermanent(err) {
		return Decision{}
	}

	var timeout *AttemptTimeoutError
	if errors.As(err, &timeout) {
		return Decision{Retryable: true}
	}

	var transient *transientError
	if errors.As(err, &transient) {
		return Decision{Retryable: true, Delay: transient.after}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Decision{}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Retryable: true}
	}

	return Decision{Retryable: c.retryUnknown}
}
