// Package store keeps courier's turn ledger in Postgres. Only metadata is
// written; conversation text stays in memory.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS courier_turns (
	id           UUID PRIMARY KEY,
	chat_id      BIGINT NOT NULL,
	model        TEXT NOT NULL,
	mode         TEXT NOT NULL,
	state        TEXT NOT NULL,
	error_class  TEXT,
	history_len  INT NOT NULL DEFAULT 0,
	reply_length INT NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS courier_turns_started_at_idx ON courier_turns (started_at);
CREATE INDEX IF NOT EXISTS courier_turns_chat_id_idx ON courier_turns (chat_id);
`

// EnsureSchema creates the ledger table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
