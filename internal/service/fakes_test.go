package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/session-tracker/internal/domain"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type storedHeader struct {
	payload   domain.SessionPayload
	createdAt time.Time
	updatedAt time.Time
}

// memStore is an in-memory SessionWriter. Writes made inside WithinTx are
// staged on copies and only become visible when fn returns nil.
type memStore struct {
	mu      sync.Mutex
	headers map[string]storedHeader
	splits  map[string]map[int64]domain.Split

	failSplits error
	batches    []int
	txCount    int
}

func newMemStore() *memStore {
	return &memStore{
		headers: make(map[string]storedHeader),
		splits:  make(map[string]map[int64]domain.Split),
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx domain.SessionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	tx := &memTx{
		store:   m,
		headers: maps.Clone(m.headers),
		splits:  make(map[string]map[int64]domain.Split, len(m.splits)),
	}
	for id, s := range m.splits {
		tx.splits[id] = maps.Clone(s)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.headers = tx.headers
	m.splits = tx.splits
	return nil
}

func (m *memStore) header(id string) (storedHeader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[id]
	return h, ok
}

func (m *memStore) storedSplits(id string) map[int64]domain.Split {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.splits[id])
}

type memTx struct {
	store   *memStore
	headers map[string]storedHeader
	splits  map[string]map[int64]domain.Split
}

func (t *memTx) UpsertHeader(_ context.Context, p domain.SessionPayload, now time.Time) error {
	h, ok := t.headers[p.ID]
	if !ok {
		h.createdAt = now
	}
	h.payload = p
	h.payload.Splits = nil
	h.updatedAt = now
	t.headers[p.ID] = h
	return nil
}

func (t *memTx) InsertSplits(_ context.Context, sessionID string, splits []domain.Split) ([]bool, error) {
	if t.store.failSplits != nil {
		return nil, t.store.failSplits
	}
	t.store.batches = append(t.store.batches, len(splits))

	rows, ok := t.splits[sessionID]
	if !ok {
		rows = make(map[int64]domain.Split)
		t.splits[sessionID] = rows
	}
	written := make([]bool, len(splits))
	for i, s := range splits {
		if _, exists := rows[s.T]; exists {
			continue
		}
		rows[s.T] = s
		written[i] = true
	}
	return written, nil
}

// fakeReader returns canned results and records how often it was asked
type fakeReader struct {
	mu          sync.Mutex
	calls       map[string]int
	lastFilter  domain.ListFilter
	lastLimit   int
	lastSearch  string
	leaderboard []domain.LeaderboardEntry
	onLoad      func()
	err         error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		calls: make(map[string]int),
		leaderboard: []domain.LeaderboardEntry{
			{Player: "alice", Mode: domain.ModeRacing, BestScore: "20"},
			{Player: "bob", Mode: domain.ModeRacing, BestScore: "15"},
		},
	}
}

func (r *fakeReader) record(name string) {
	r.mu.Lock()
	r.calls[name]++
	r.mu.Unlock()
	if r.onLoad != nil {
		r.onLoad()
	}
}

func (r *fakeReader) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *fakeReader) ListSessions(_ context.Context, f domain.ListFilter) ([]domain.SessionSummary, int64, error) {
	r.record("list")
	r.lastFilter = f
	return []domain.SessionSummary{}, 42, r.err
}

func (r *fakeReader) GetSession(_ context.Context, id string) (*domain.SessionDetail, error) {
	r.record("get")
	if id == "missing" {
		return nil, domain.ErrSessionNotFound
	}
	return &domain.SessionDetail{
		SessionHeader: domain.SessionHeader{ID: id},
		Splits:        []domain.Split{},
	}, nil
}

func (r *fakeReader) Leaderboard(_ context.Context, _ domain.Mode, limit int) ([]domain.LeaderboardEntry, error) {
	r.record("leaderboard")
	r.lastLimit = limit
	return r.leaderboard, r.err
}

func (r *fakeReader) Players(_ context.Context, search string, limit int) ([]domain.PlayerSummary, error) {
	r.record("players")
	r.lastSearch = search
	r.lastLimit = limit
	return []domain.PlayerSummary{{Player: "alice", Sessions: 2, BestScore: "20"}}, r.err
}

func (r *fakeReader) ModeSummaries(context.Context) ([]domain.ModeSummary, error) {
	r.record("modes")
	return []domain.ModeSummary{{Mode: domain.ModeRacing, Sessions: 2, AvgScore: "17.5", MaxScore: "20"}}, r.err
}

func (r *fakeReader) Stats(context.Context) (*domain.Stats, error) {
	r.record("stats")
	return &domain.Stats{Sessions: 2, Players: 1, ByMode: []domain.ModeStats{}}, r.err
}

// memCache is a generation-scoped QueryCache kept in memory
type memCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[int64]map[string][]byte
	failGen    error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[int64]map[string][]byte)}
}

func (c *memCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGen != nil {
		return 0, c.failGen
	}
	return c.generation, nil
}

func (c *memCache) Get(_ context.Context, gen int64, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[gen][key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) Set(_ context.Context, gen int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[gen] == nil {
		c.entries[gen] = make(map[string][]byte)
	}
	c.entries[gen][key] = data
	return nil
}

func (c *memCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[c.generation][key]
	return ok
}

type fakeHub struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (h *fakeHub) BroadcastSessionUpserted(event domain.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHub) received() []domain.SessionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.SessionEvent(nil), h.events...)
}

var errBoom = errors.New("boom")
