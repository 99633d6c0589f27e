package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/session-tracker/internal/domain"
)

const upsertHeaderSQL = `
	INSERT INTO sessions (id, player, mode, started_at, duration_ms, total_score, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $7)
	ON CONFLICT (id)
	DO UPDATE SET
		player = EXCLUDED.player,
		mode = EXCLUDED.mode,
		started_at = EXCLUDED.started_at,
		duration_ms = EXCLUDED.duration_ms,
		total_score = EXCLUDED.total_score,
		updated_at = EXCLUDED.updated_at
`

// An existing (session_id, t) row always wins; the new values are discarded.
const insertSplitSQL = `
	INSERT INTO session_splits (session_id, t, lap, score, note)
	VALUES ($1, $2, $3, $4::text::numeric, $5)
	ON CONFLICT (session_id, t) DO NOTHING
`

// WithinTx runs fn inside one transaction. It commits when fn returns nil and
// rolls back on error, panic or context cancellation.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx domain.SessionTx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&sessionTx{tx: tx})
	})
}

// sessionTx implements domain.SessionTx on top of a pgx transaction
type sessionTx struct {
	tx pgx.Tx
}

// UpsertHeader inserts or overwrites the session header row
func (t *sessionTx) UpsertHeader(ctx context.Context, p domain.SessionPayload, now time.Time) error {
	_, err := t.tx.Exec(ctx, upsertHeaderSQL,
		p.ID,
		p.Player,
		string(p.Mode),
		p.StartTime(),
		p.DurationMs,
		p.TotalScore.String(),
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting header: %w", err)
	}
	return nil
}

// InsertSplits queues one conditional insert per split in a single batch and
// reports which of them wrote a row
func (t *sessionTx) InsertSplits(ctx context.Context, sessionID string, splits []domain.Split) ([]bool, error) {
	if len(splits) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, s := range splits {
		batch.Queue(insertSplitSQL, sessionID, s.T, s.Lap, s.Score.String(), s.Note)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	written := make([]bool, len(splits))
	for i := range splits {
		tag, err := br.Exec()
		if err != nil {
			return nil, fmt.Errorf("inserting split t=%d: %w", splits[i].T, err)
		}
		written[i] = tag.RowsAffected() == 1
	}

	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("closing split batch: %w", err)
	}
	return written, nil
}
