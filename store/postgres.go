package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nomis52/flowmaster/flow"
)

// Schema creates the tables PostgresStore uses. Master columns that List
// filters on are stored alongside the full JSON document.
const Schema = `
CREATE TABLE IF NOT EXISTS flow_masters (
	flow_id           TEXT PRIMARY KEY,
	flow_type         TEXT NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id     TEXT NOT NULL,
	flow_status       TEXT NOT NULL,
	version           BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	data              JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS flow_masters_tenant_idx
	ON flow_masters (client_account_id, engagement_id, flow_status);
CREATE TABLE IF NOT EXISTS flow_children (
	flow_id TEXT PRIMARY KEY REFERENCES flow_masters (flow_id) ON DELETE CASCADE,
	status  TEXT NOT NULL,
	data    JSONB NOT NULL
);
`

// PostgresStore keeps masters and children in two tables written in one
// transaction. Update guards the master row with WHERE version = $n.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// OpenPostgres connects to url, verifies the connection and applies Schema.
func OpenPostgres(ctx context.Context, url string, maxConns int32, logger *slog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore creates a store on an existing pool. The store owns the
// pool and closes it in Close.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "postgres_store"),
		now:    time.Now,
	}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Debug("schema applied")
	return nil
}

type encoded struct {
	master []byte
	child  []byte
}

func encode(f *flow.Flow) (encoded, error) {
	m, err := json.Marshal(f.Master)
	if err != nil {
		return encoded{}, fmt.Errorf("encoding master %s: %w", f.ID(), err)
	}
	c, err := json.Marshal(f.Child)
	if err != nil {
		return encoded{}, fmt.Errorf("encoding child %s: %w", f.ID(), err)
	}
	return encoded{master: m, child: c}, nil
}

func decode(master, child []byte) (*flow.Flow, error) {
	var f flow.Flow
	if err := json.Unmarshal(master, &f.Master); err != nil {
		return nil, fmt.Errorf("decoding master: %w", err)
	}
	if err := json.Unmarshal(child, &f.Child); err != nil {
		return nil, fmt.Errorf("decoding child: %w", err)
	}
	return &f, nil
}

// Create stores a new flow.
func (s *PostgresStore) Create(ctx context.Context, f *flow.Flow) error {
	stored, err := prepareCreate(f, s.now())
	if err != nil {
		return err
	}
	enc, err := encode(stored)
	if err != nil {
		return err
	}
	m := &stored.Master

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO flow_masters
				(flow_id, flow_type, client_account_id, engagement_id, flow_status, version, created_at, updated_at, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (flow_id) DO NOTHING`,
			m.FlowID, m.FlowType, m.Scope.ClientAccountID, m.Scope.EngagementID, string(m.Status),
			m.Version, m.CreatedAt, m.UpdatedAt, string(enc.master))
		if err != nil {
			return fmt.Errorf("inserting master: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyExists
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO flow_children (flow_id, status, data) VALUES ($1, $2, $3)`,
			m.FlowID, stored.Child.Status, string(enc.child)); err != nil {
			return fmt.Errorf("inserting child: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	commit(f, stored)
	return nil
}

// Get returns the flow.
func (s *PostgresStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	var master, child []byte
	err := s.pool.QueryRow(ctx, `
		SELECT m.data, c.data
		FROM flow_masters m JOIN flow_children c ON c.flow_id = m.flow_id
		WHERE m.flow_id = $1`, id).Scan(&master, &child)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading flow: %w", err)
	}
	return decode(master, child)
}

// Update replaces both records if the master version matches.
func (s *PostgresStore) Update(ctx context.Context, f *flow.Flow) error {
	stored, err := prepareUpdate(f, s.now())
	if err != nil {
		return err
	}
	enc, err := encode(stored)
	if err != nil {
		return err
	}
	m := &stored.Master

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE flow_masters
			SET flow_status = $2, version = $3, updated_at = $4, data = $5
			WHERE flow_id = $1 AND version = $6`,
			m.FlowID, string(m.Status), m.Version, m.UpdatedAt, string(enc.master), f.Master.Version)
		if err != nil {
			return fmt.Errorf("updating master: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM flow_masters WHERE flow_id = $1)`, m.FlowID).Scan(&exists); err != nil {
				return fmt.Errorf("checking master: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		if _, err := tx.Exec(ctx,
			`UPDATE flow_children SET status = $2, data = $3 WHERE flow_id = $1`,
			m.FlowID, stored.Child.Status, string(enc.child)); err != nil {
			return fmt.Errorf("updating child: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	commit(f, stored)
	return nil
}

// Delete removes the master row; the child row goes with it.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flow_masters WHERE flow_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns matching flows.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*flow.Flow, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ClientAccountID != "" {
		add("m.client_account_id = $%d", filter.ClientAccountID)
	}
	if filter.EngagementID != "" {
		add("m.engagement_id = $%d", filter.EngagementID)
	}
	if filter.FlowType != "" {
		add("m.flow_type = $%d", filter.FlowType)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("m.flow_status = ANY($%d)", statuses)
	}

	query := `SELECT m.data, c.data FROM flow_masters m JOIN flow_children c ON c.flow_id = m.flow_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY m.created_at, m.flow_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing flows: %w", err)
	}
	defer rows.Close()

	var out []*flow.Flow
	for rows.Next() {
		var master, child []byte
		if err := rows.Scan(&master, &child); err != nil {
			return nil, fmt.Errorf("scanning flow: %w", err)
		}
		f, err := decode(master, child)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing flows: %w", err)
	}
	return out, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
