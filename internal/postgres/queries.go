package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/session-tracker/internal/domain"
)

const sessionColumns = `s.id, s.player, s.mode, s.started_at, s.duration_ms, s.total_score::text, s.created_at, s.updated_at`

// likeEscaper neutralises LIKE wildcards in user supplied search terms
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListSessions returns one page of session headers with their split counts,
// newest first, plus the number of sessions matching the filter
func (r *Repository) ListSessions(ctx context.Context, f domain.ListFilter) ([]domain.SessionSummary, int64, error) {
	var (
		conds []string
		args  []any
	)
	where := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Player != "" {
		where("s.player = $%d", f.Player)
	}
	if f.Mode != "" {
		where("s.mode = $%d", string(f.Mode))
	}
	if f.From != nil {
		where("s.started_at >= $%d", *f.From)
	}
	if f.To != nil {
		where("s.started_at <= $%d", *f.To)
	}

	clause := ""
	if len(conds) > 0 {
		clause = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM sessions s ` + clause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting sessions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s,
			(SELECT COUNT(*) FROM session_splits sp WHERE sp.session_id = s.id) AS split_count
		FROM sessions s
		%s
		ORDER BY s.started_at DESC, s.id ASC
		LIMIT $%d OFFSET $%d
	`, sessionColumns, clause, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.SessionSummary, 0, f.Limit)
	for rows.Next() {
		var s domain.SessionSummary
		if err := rows.Scan(
			&s.ID,
			&s.Player,
			&s.Mode,
			&s.StartedAt,
			&s.DurationMs,
			&s.TotalScore,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.SplitCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, total, nil
}

// GetSession returns a session header with all of its splits ordered by
// offset. Both reads share one snapshot so a concurrent merge is seen either
// entirely or not at all.
func (r *Repository) GetSession(ctx context.Context, id string) (*domain.SessionDetail, error) {
	var detail domain.SessionDetail

	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, r.pool, opts, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id).Scan(
			&detail.ID,
			&detail.Player,
			&detail.Mode,
			&detail.StartedAt,
			&detail.DurationMs,
			&detail.TotalScore,
			&detail.CreatedAt,
			&detail.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("getting session: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT t, lap, score::text, note
			FROM session_splits
			WHERE session_id = $1
			ORDER BY t ASC
		`, id)
		if err != nil {
			return fmt.Errorf("getting splits: %w", err)
		}
		defer rows.Close()

		detail.Splits = make([]domain.Split, 0)
		for rows.Next() {
			var s domain.Split
			if err := rows.Scan(&s.T, &s.Lap, &s.Score, &s.Note); err != nil {
				return fmt.Errorf("scanning split: %w", err)
			}
			detail.Splits = append(detail.Splits, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// Leaderboard returns the best total score per (player, mode), optionally
// restricted to one mode, best first
func (r *Repository) Leaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT player, mode, MAX(total_score)::text AS best_score
		FROM sessions
		WHERE ($1::text = '' OR mode = $1::text)
		GROUP BY player, mode
		ORDER BY MAX(total_score) DESC, player ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.Player, &e.Mode, &e.BestScore); err != nil {
			return nil, fmt.Errorf("scanning leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	return entries, nil
}

// Players returns per-player session counts and best scores, optionally
// filtered by a case-insensitive substring of the player name
func (r *Repository) Players(ctx context.Context, search string, limit int) ([]domain.PlayerSummary, error) {
	query := `
		SELECT player, COUNT(*) AS sessions, MAX(total_score)::text AS best_score
		FROM sessions
		WHERE ($1::text = '' OR player ILIKE '%' || $1::text || '%' ESCAPE '\')
		GROUP BY player
		ORDER BY COUNT(*) DESC, MAX(total_score) DESC, player ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, likeEscaper.Replace(search), limit)
	if err != nil {
		return nil, fmt.Errorf("getting players: %w", err)
	}
	defer rows.Close()

	players := make([]domain.PlayerSummary, 0, limit)
	for rows.Next() {
		var p domain.PlayerSummary
		if err := rows.Scan(&p.Player, &p.Sessions, &p.BestScore); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting players: %w", err)
	}
	return players, nil
}

// ModeSummaries returns session count, average and maximum total score per mode
func (r *Repository) ModeSummaries(ctx context.Context) ([]domain.ModeSummary, error) {
	query := `
		SELECT mode, COUNT(*), AVG(total_score)::text, MAX(total_score)::text
		FROM sessions
		GROUP BY mode
		ORDER BY mode
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting mode summaries: %w", err)
	}
	defer rows.Close()

	modes := make([]domain.ModeSummary, 0, len(domain.Modes))
	for rows.Next() {
		var m domain.ModeSummary
		if err := rows.Scan(&m.Mode, &m.Sessions, &m.AvgScore, &m.MaxScore); err != nil {
			return nil, fmt.Errorf("scanning mode summary: %w", err)
		}
		modes = append(modes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting mode summaries: %w", err)
	}
	return modes, nil
}

// Stats returns global session and player counts with a per-mode breakdown.
// Both are read from one snapshot so the totals match the breakdown.
func (r *Repository) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{ByMode: make([]domain.ModeStats, 0, len(domain.Modes))}

	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, r.pool, opts, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT player) FROM sessions`).
			Scan(&stats.Sessions, &stats.Players)
		if err != nil {
			return fmt.Errorf("getting totals: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT mode, COUNT(*), AVG(total_score)::text
			FROM sessions
			GROUP BY mode
			ORDER BY mode
		`)
		if err != nil {
			return fmt.Errorf("getting per-mode stats: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var m domain.ModeStats
			if err := rows.Scan(&m.Mode, &m.Sessions, &m.AvgScore); err != nil {
				return fmt.Errorf("scanning mode stats: %w", err)
			}
			stats.ByMode = append(stats.ByMode, m)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("getting per-mode stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
