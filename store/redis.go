package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nomis52/flowmaster/flow"
)

// DefaultRedisPrefix namespaces every key the RedisStore writes.
const DefaultRedisPrefix = "flowmaster:"

// RedisStore keeps each flow as a JSON document under <prefix>flow:<id>.
//
// Writes use WATCH/MULTI on the flow key, so a concurrent writer aborts the
// transaction and the caller sees ErrVersionConflict. A set per tenant
// (<prefix>tenant:<client>:<engagement>) and one for all flows
// (<prefix>flows) index the documents for List.
//
// Transactions and List span several keys, so the store needs a single
// Redis server (or a primary behind a failover client), not Redis Cluster.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a store on an existing client. The store owns the
// client and closes it in Close.
func NewRedisStore(client *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_store"),
		now:    time.Now,
	}
}

func (s *RedisStore) flowKey(id string) string {
	return s.prefix + "flow:" + id
}

func (s *RedisStore) allKey() string {
	return s.prefix + "flows"
}

func (s *RedisStore) tenantKey(clientAccountID, engagementID string) string {
	return s.prefix + "tenant:" + clientAccountID + ":" + engagementID
}

// getTx reads and decodes a flow inside a WATCH.
func getTx(ctx context.Context, tx *redis.Tx, key string) (*flow.Flow, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading flow: %w", err)
	}
	return flow.Decode(data)
}

// Create stores a new flow.
func (s *RedisStore) Create(ctx context.Context, f *flow.Flow) error {
	stored, err := prepareCreate(f, s.now())
	if err != nil {
		return err
	}
	data, err := flow.Encode(stored)
	if err != nil {
		return err
	}

	key := s.flowKey(stored.ID())
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("checking flow: %w", err)
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.allKey(), stored.ID())
			pipe.SAdd(ctx, s.tenantKey(stored.Master.Scope.ClientAccountID, stored.Master.Scope.EngagementID), stored.ID())
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	commit(f, stored)
	return nil
}

// Get returns the flow.
func (s *RedisStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	data, err := s.client.Get(ctx, s.flowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading flow: %w", err)
	}
	return flow.Decode(data)
}

// Update replaces the flow if the version matches.
func (s *RedisStore) Update(ctx context.Context, f *flow.Flow) error {
	stored, err := prepareUpdate(f, s.now())
	if err != nil {
		return err
	}
	data, err := flow.Encode(stored)
	if err != nil {
		return err
	}

	key := s.flowKey(stored.ID())
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if current.Master.Version != f.Master.Version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	commit(f, stored)
	return nil
}

// Delete removes the flow and its index entries.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := s.flowKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getTx(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.allKey(), id)
			pipe.SRem(ctx, s.tenantKey(current.Master.Scope.ClientAccountID, current.Master.Scope.EngagementID), id)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

// List returns matching flows. A filter naming both tenant ids reads only
// that tenant's index.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*flow.Flow, error) {
	index := s.allKey()
	if filter.ClientAccountID != "" && filter.EngagementID != "" {
		index = s.tenantKey(filter.ClientAccountID, filter.EngagementID)
	}

	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("reading flow index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.flowKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading flows: %w", err)
	}

	var out []*flow.Flow
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a document; removed concurrently.
			continue
		}
		f, err := flow.Decode([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping undecodable flow", "flow_id", ids[i], "error", err)
			continue
		}
		if filter.Match(f) {
			out = append(out, f)
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
