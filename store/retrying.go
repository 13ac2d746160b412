package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/retry"
)

// retryDelay is the pause before the single retry of a failed store call.
const retryDelay = 100 * time.Millisecond

// retrying retries each call once when it fails for a reason other than the
// store's own verdicts (not found, exists, conflict) or cancellation.
type retrying struct {
	Store
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry wraps s so transient backend failures (a dropped connection, a
// Redis failover) get one more attempt.
func WithRetry(s Store, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{
		Store:  s,
		policy: retry.Policy{MaxAttempts: 2, Backoff: retry.Fixed(retryDelay)},
		logger: logger.With("component", "store_retry"),
	}
}

func (r *retrying) Classify(err error) retry.Decision {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrVersionConflict) {
		return retry.Decision{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Decision{}
	}
	return retry.Decision{Retryable: true}
}

func do[T any](ctx context.Context, r *retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	v, _, err := retry.Do(ctx, r.policy, r, func(ctx context.Context, attempt int) (T, error) {
		if attempt > 1 {
			r.logger.Warn("retrying store operation", "op", op, "attempt", attempt)
		}
		return fn(ctx)
	})
	// Callers see the store's own error, not the retry wrapper.
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	return v, err
}

func (r *retrying) Create(ctx context.Context, f *flow.Flow) error {
	_, err := do(ctx, r, "create", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.Store.Create(ctx, f)
	})
	return err
}

func (r *retrying) Get(ctx context.Context, id string) (*flow.Flow, error) {
	return do(ctx, r, "get", func(ctx context.Context) (*flow.Flow, error) {
		return r.Store.Get(ctx, id)
	})
}

func (r *retrying) Update(ctx context.Context, f *flow.Flow) error {
	_, err := do(ctx, r, "update", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.Store.Update(ctx, f)
	})
	return err
}

func (r *retrying) Delete(ctx context.Context, id string) error {
	_, err := do(ctx, r, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.Store.Delete(ctx, id)
	})
	return err
}

func (r *retrying) List(ctx context.Context, filter Filter) ([]*flow.Flow, error) {
	return do(ctx, r, "list", func(ctx context.Context) ([]*flow.Flow, error) {
		return r.Store.List(ctx, filter)
	})
}
