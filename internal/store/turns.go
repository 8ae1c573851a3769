package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/relay"
)

// RecordTurn writes one ledger row for a finished turn.
func (s *Store) RecordTurn(ctx context.Context, rec relay.TurnRecord) error {
	var errorClass *string
	if rec.ErrorClass != "" {
		errorClass = &rec.ErrorClass
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_turns (id, chat_id, model, mode, state, error_class, history_len, reply_length, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ChatID, rec.Model, rec.Mode, rec.State.String(), errorClass,
		rec.HistoryLen, rec.ReplyLength, rec.Duration.Milliseconds(), rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// TurnFinished lets the store observe the relay directly.
func (s *Store) TurnFinished(ctx context.Context, rec relay.TurnRecord) error {
	return s.RecordTurn(ctx, rec)
}

// TurnCounts summarises the ledger over a time range.
type TurnCounts struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// CountTurns counts delivered and failed turns started at or after since.
func (s *Store) CountTurns(ctx context.Context, since time.Time) (TurnCounts, error) {
	var c TurnCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE state = 'DELIVERED'),
			count(*) FILTER (WHERE state = 'FAILED')
		FROM courier_turns
		WHERE started_at >= $1`, since,
	).Scan(&c.Delivered, &c.Failed)
	if err != nil {
		return c, fmt.Errorf("count turns: %w", err)
	}
	return c, nil
}
