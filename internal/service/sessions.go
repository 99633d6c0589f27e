package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/metrics"
	"github.com/session-tracker/internal/validation"
)

// Submission sources, used as metric labels
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// QueryCache stores aggregate query results between merges. Entries are
// scoped to a generation; Invalidate starts a new one. Callers read the
// generation before querying the database so a result computed across a
// concurrent merge is filed under the old generation and never served.
type QueryCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, key string, dest any) (bool, error)
	Set(ctx context.Context, gen int64, key string, value any) error
	Invalidate(ctx context.Context) error
}

// Broadcaster publishes committed merges to live subscribers
type Broadcaster interface {
	BroadcastSessionUpserted(event domain.SessionEvent)
}

// ListQuery holds the raw list parameters; non-positive Page and Limit fall back to defaults
type ListQuery struct {
	Player string
	Mode   domain.Mode
	From   *int64
	To     *int64
	Page   int
	Limit  int
}

// SessionService provides business logic for session operations
type SessionService struct {
	engine  *MergeEngine
	reader  domain.SessionReader
	cache   QueryCache
	hub     Broadcaster
	metrics *metrics.Recorder
	config  *config.QueryConfig
	logger  *slog.Logger
}

// NewSessionService creates a new session service
func NewSessionService(
	engine *MergeEngine,
	reader domain.SessionReader,
	cfg *config.QueryConfig,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		engine: engine,
		reader: reader,
		config: cfg,
		logger: logger,
	}
}

// SetCache enables caching of aggregate queries
func (s *SessionService) SetCache(cache QueryCache) {
	s.cache = cache
}

// SetHub sets the broadcaster notified after each committed merge
func (s *SessionService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SetMetrics sets the metrics recorder
func (s *SessionService) SetMetrics(m *metrics.Recorder) {
	s.metrics = m
}

// SubmitSession validates a raw JSON payload and merges it
func (s *SessionService) SubmitSession(ctx context.Context, body []byte, source string) (domain.MergeResult, error) {
	payload, err := validation.ParseSession(body)
	if err != nil {
		s.metrics.RecordValidationFailure(source)
		return domain.MergeResult{}, err
	}
	return s.UpsertSession(ctx, payload, source)
}

// UpsertSession merges an already validated payload. Cache invalidation and
// broadcasting happen after commit and never fail the call.
func (s *SessionService) UpsertSession(ctx context.Context, p domain.SessionPayload, source string) (domain.MergeResult, error) {
	start := time.Now()
	result, err := s.engine.Merge(ctx, p)
	if err != nil {
		s.metrics.RecordMergeFailure()
		return domain.MergeResult{}, err
	}
	s.metrics.RecordMerge(string(p.Mode), source, len(p.Splits), result.SplitsInserted, time.Since(start))

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate query cache", "error", err)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastSessionUpserted(domain.SessionEvent{
			ID:             p.ID,
			Player:         p.Player,
			Mode:           p.Mode,
			TotalScore:     p.TotalScore,
			SplitsInserted: result.SplitsInserted,
			Timestamp:      time.Now().UTC(),
		})
	}

	return result, nil
}

// ListSessions returns one page of sessions, newest first
func (s *SessionService) ListSessions(ctx context.Context, q ListQuery) (*domain.SessionPage, error) {
	page := q.Page
	if page <= 0 {
		page = 1
	}
	limit := s.config.Sessions.Clamp(q.Limit)
	// keep (page-1)*limit within int
	if maxPage := math.MaxInt/limit + 1; page > maxPage {
		page = maxPage
	}

	filter := domain.ListFilter{
		Player: q.Player,
		Mode:   q.Mode,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if q.From != nil {
		from := time.UnixMilli(*q.From).UTC()
		filter.From = &from
	}
	if q.To != nil {
		to := time.UnixMilli(*q.To).UTC()
		filter.To = &to
	}

	sessions, total, err := s.reader.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return &domain.SessionPage{
		Data:  sessions,
		Page:  page,
		Limit: limit,
		Total: total,
	}, nil
}

// GetSession returns a session with its splits
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.SessionDetail, error) {
	return s.reader.GetSession(ctx, id)
}

// Leaderboard returns best scores per player, within one mode when given
func (s *SessionService) Leaderboard(ctx context.Context, mode domain.Mode, limit int) ([]domain.LeaderboardEntry, error) {
	limit = s.config.Leaderboard.Clamp(limit)
	key := "leaderboard:" + string(mode) + ":" + strconv.Itoa(limit)
	return cached(ctx, s, "leaderboard", key, func() ([]domain.LeaderboardEntry, error) {
		return s.reader.Leaderboard(ctx, mode, limit)
	})
}

// Players returns per-player aggregates, optionally filtered by name
func (s *SessionService) Players(ctx context.Context, search string, limit int) ([]domain.PlayerSummary, error) {
	limit = s.config.Players.Clamp(limit)
	key := "players:" + strconv.Itoa(limit) + ":" + search
	return cached(ctx, s, "players", key, func() ([]domain.PlayerSummary, error) {
		return s.reader.Players(ctx, search, limit)
	})
}

// Modes returns per-mode aggregates
func (s *SessionService) Modes(ctx context.Context) ([]domain.ModeSummary, error) {
	return cached(ctx, s, "modes", "modes", func() ([]domain.ModeSummary, error) {
		return s.reader.ModeSummaries(ctx)
	})
}

// Stats returns global totals
func (s *SessionService) Stats(ctx context.Context) (*domain.Stats, error) {
	return cached(ctx, s, "stats", "stats", func() (*domain.Stats, error) {
		return s.reader.Stats(ctx)
	})
}

// WarmCache recomputes the default leaderboards, modes and stats and stores
// them in the cache. It is a no-op without a cache.
func (s *SessionService) WarmCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		return fmt.Errorf("reading cache generation: %w", err)
	}

	limit := s.config.Leaderboard.DefaultLimit
	for _, mode := range append([]domain.Mode{""}, domain.Modes...) {
		entries, err := s.reader.Leaderboard(ctx, mode, limit)
		if err != nil {
			return fmt.Errorf("warming leaderboard %q: %w", mode, err)
		}
		key := "leaderboard:" + string(mode) + ":" + strconv.Itoa(limit)
		if err := s.cache.Set(ctx, gen, key, entries); err != nil {
			return fmt.Errorf("caching leaderboard %q: %w", mode, err)
		}
	}

	modes, err := s.reader.ModeSummaries(ctx)
	if err != nil {
		return fmt.Errorf("warming modes: %w", err)
	}
	if err := s.cache.Set(ctx, gen, "modes", modes); err != nil {
		return fmt.Errorf("caching modes: %w", err)
	}

	stats, err := s.reader.Stats(ctx)
	if err != nil {
		return fmt.Errorf("warming stats: %w", err)
	}
	if err := s.cache.Set(ctx, gen, "stats", stats); err != nil {
		return fmt.Errorf("caching stats: %w", err)
	}
	return nil
}

// cached serves key from the cache when possible, otherwise loads and stores it.
// Cache errors are logged and fall through to the database.
func cached[T any](ctx context.Context, s *SessionService, query, key string, load func() (T, error)) (T, error) {
	useCache := s.cache != nil
	var gen int64
	if useCache {
		var err error
		if gen, err = s.cache.Generation(ctx); err != nil {
			s.logger.Warn("query cache unavailable", "error", err)
			useCache = false
		}
	}

	if useCache {
		var hit T
		ok, err := s.cache.Get(ctx, gen, key, &hit)
		if err != nil {
			s.logger.Warn("query cache read failed", "key", key, "error", err)
		} else {
			s.metrics.RecordCacheLookup(query, ok)
			if ok {
				return hit, nil
			}
		}
	}

	value, err := load()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("querying %s: %w", query, err)
	}

	if useCache {
		if err := s.cache.Set(ctx, gen, key, value); err != nil {
			s.logger.Warn("query cache write failed", "key", key, "error", err)
		}
	}
	return value, nil
}
