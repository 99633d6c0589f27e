package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/domain"
)

// MergeEngine reconciles a validated payload with stored session state.
// The header always reflects the latest submission; splits are write-once
// per offset so clients can replay a growing session safely.
type MergeEngine struct {
	store     domain.SessionWriter
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewMergeEngine creates a new merge engine
func NewMergeEngine(store domain.SessionWriter, cfg *config.MergeConfig, logger *slog.Logger) *MergeEngine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &MergeEngine{
		store:     store,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source used for created_at/updated_at
func (e *MergeEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Merge upserts the header and inserts every split whose offset is not yet
// stored, all in one unit of work. Any storage failure rolls the whole merge
// back and is returned as a *domain.PersistenceError.
func (e *MergeEngine) Merge(ctx context.Context, p domain.SessionPayload) (domain.MergeResult, error) {
	now := e.now().UTC()
	splits := firstPerOffset(p.Splits)

	var inserted int
	err := e.store.WithinTx(ctx, func(tx domain.SessionTx) error {
		inserted = 0

		if err := tx.UpsertHeader(ctx, p, now); err != nil {
			return fmt.Errorf("upserting session header: %w", err)
		}

		for start := 0; start < len(splits); start += e.batchSize {
			end := min(start+e.batchSize, len(splits))
			written, err := tx.InsertSplits(ctx, p.ID, splits[start:end])
			if err != nil {
				return fmt.Errorf("inserting splits: %w", err)
			}
			for _, ok := range written {
				if ok {
					inserted++
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.MergeResult{}, &domain.PersistenceError{
			Op:  fmt.Sprintf("merging session %q", p.ID),
			Err: err,
		}
	}

	e.logger.Debug("session merged",
		"session_id", p.ID,
		"splits_submitted", len(p.Splits),
		"splits_inserted", inserted,
	)

	return domain.MergeResult{SessionID: p.ID, SplitsInserted: inserted}, nil
}

// firstPerOffset drops later splits that repeat an offset already seen in
// the same payload, so the first occurrence is the one that gets stored.
func firstPerOffset(splits []domain.Split) []domain.Split {
	seen := make(map[int64]struct{}, len(splits))
	out := make([]domain.Split, 0, len(splits))
	for _, s := range splits {
		if _, dup := seen[s.T]; dup {
			continue
		}
		seen[s.T] = struct{}{}
		out = append(out, s)
	}
	return out
}
