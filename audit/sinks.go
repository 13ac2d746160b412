package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// SlogSink writes each entry as a structured log line.
type SlogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogSink creates a sink that logs at level.
func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return &SlogSink{logger: logger.With("component", "audit"), level: level}
}

// Write logs e.
func (s *SlogSink) Write(ctx context.Context, e Entry) error {
	attrs := []any{
		"seq", e.Seq,
		"operation", e.OperationType,
		"actor", e.Actor,
		"success", e.Success,
	}
	if e.FlowID != "" {
		attrs = append(attrs, "flow_id", e.FlowID)
	}
	if e.ClientAccountID != "" {
		attrs = append(attrs, "client_account_id", e.ClientAccountID)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	s.logger.Log(ctx, s.level, "audit", attrs...)
	return nil
}

// DefaultRedisKey is the list RedisSink appends to.
const DefaultRedisKey = "flowmaster:audit"

// RedisSink keeps the most recent entries in a capped Redis list, newest first.
type RedisSink struct {
	client redis.UniversalClient
	key    string
	max    int64
}

// NewRedisSink creates a sink writing to key, keeping at most max entries.
func NewRedisSink(client redis.UniversalClient, key string, max int64) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	if max <= 0 {
		max = DefaultCapacity
	}
	return &RedisSink{client: client, key: key, max: max}
}

// Write pushes e and trims the list in one round trip.
func (s *RedisSink) Write(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing audit entry to redis: %w", err)
	}
	return nil
}

// Recent reads up to n of the newest entries back from Redis.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading audit entries: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decoding audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
