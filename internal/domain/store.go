package domain

import (
	"context"
	"time"
)

// SessionWriter opens atomic units of work against session storage.
// If fn returns an error, or ctx is cancelled, nothing fn wrote survives.
type SessionWriter interface {
	WithinTx(ctx context.Context, fn func(tx SessionTx) error) error
}

// SessionTx is the set of writes available inside one unit of work
type SessionTx interface {
	// UpsertHeader inserts the header with created_at = updated_at = now, or
	// overwrites player, mode, start, duration, total score and updated_at of an
	// existing header. created_at is never changed.
	UpsertHeader(ctx context.Context, p SessionPayload, now time.Time) error

	// InsertSplits inserts each split keyed by (sessionID, T) unless a row with
	// that key already exists, in which case the stored row is left untouched.
	// The returned slice reports, per input split, whether a row was written.
	InsertSplits(ctx context.Context, sessionID string, splits []Split) ([]bool, error)
}

// SessionReader provides read-only projections over stored sessions
type SessionReader interface {
	ListSessions(ctx context.Context, f ListFilter) ([]SessionSummary, int64, error)
	GetSession(ctx context.Context, id string) (*SessionDetail, error)
	Leaderboard(ctx context.Context, mode Mode, limit int) ([]LeaderboardEntry, error)
	Players(ctx context.Context, search string, limit int) ([]PlayerSummary, error)
	ModeSummaries(ctx context.Context) ([]ModeSummary, error)
	Stats(ctx context.Context) (*Stats, error)
}
