package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call usage in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_usage (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			bot_id TEXT NOT NULL,
			call_id TEXT NOT NULL,
			phone_number TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL DEFAULT 'inbound',
			seconds INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_usage_tenant_started ON call_usage (tenant_id, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_usage (id, tenant_id, bot_id, call_id, phone_number, direction, seconds, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.TenantID,
		rec.BotID,
		rec.CallID,
		rec.PhoneNumber,
		rec.Direction,
		rec.Seconds,
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("save call usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, bot_id, call_id, phone_number, direction, seconds, started_at
		 FROM call_usage WHERE tenant_id=$1 ORDER BY started_at DESC LIMIT $2`,
		tenantID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.TenantID, &r.BotID, &r.CallID, &r.PhoneNumber, &r.Direction, &r.Seconds, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
