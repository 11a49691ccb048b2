package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voiceomni/linebridge/internal/tools"
)

// PostgresStore reads bot configuration written by the management plane.
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
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL DEFAULT 'Puck',
			system_instruction TEXT NOT NULL DEFAULT '',
			greeting TEXT NOT NULL DEFAULT '',
			tools JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_tenant ON bots (tenant_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) RuntimeConfig(ctx context.Context, botID string) (RuntimeConfig, error) {
	var (
		cfg      RuntimeConfig
		toolsRaw string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, phone_number, voice, system_instruction, greeting, tools::text
		 FROM bots WHERE id=$1 AND status='active'`,
		botID,
	).Scan(&cfg.BotID, &cfg.TenantID, &cfg.Name, &cfg.PhoneNumber, &cfg.Voice, &cfg.SystemInstruction, &cfg.Greeting, &toolsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RuntimeConfig{}, ErrNotFound
		}
		return RuntimeConfig{}, fmt.Errorf("load bot %s: %w", botID, err)
	}

	// Declarations are validated here, at load, so a malformed blob fails
	// the call before any engine session is opened.
	decls, err := tools.ParseDeclarations(toolsRaw)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("bot %s: %w", botID, err)
	}
	cfg.Tools = decls
	return cfg, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
