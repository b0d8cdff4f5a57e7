package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/agent/core"
)

// SaveTurn records a finished turn. It satisfies core.TurnRecorder.
func (s *Store) SaveTurn(ctx context.Context, rec core.TurnRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("turn id is required")
	}
	steps, err := json.Marshal(rec.PastSteps)
	if err != nil {
		return fmt.Errorf("encode past steps: %w", err)
	}
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO turns (id, session_id, input, response, needs_replan, past_steps, outcome, error, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING;
`, rec.ID, rec.SessionID, rec.Input, rec.Response, rec.NeedsReplan, steps, rec.Outcome, errText, rec.Duration.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return err
	}
	if turnsCounter != nil {
		turnsCounter.Add(ctx, 1)
	}
	return nil
}

// ListTurns returns the most recent turns of a session, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]core.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, input, response, needs_replan, past_steps, outcome, COALESCE(error, ''), duration_ms, created_at
FROM (
  SELECT * FROM turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2
) recent
ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.TurnRecord
	for rows.Next() {
		var (
			rec   core.TurnRecord
			steps []byte
			ms    int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Input, &rec.Response, &rec.NeedsReplan, &steps, &rec.Outcome, &rec.Error, &ms, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &rec.PastSteps); err != nil {
				return nil, fmt.Errorf("decode past steps of turn %s: %w", rec.ID, err)
			}
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
