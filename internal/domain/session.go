package domain

import (
	"encoding/json"
	"time"
)

// Mode identifies the game mode a session was played in
type Mode string

const (
	ModeRacing Mode = "racing"
	ModeSoccer Mode = "soccer"
)

// Modes lists every supported game mode
var Modes = []Mode{ModeRacing, ModeSoccer}

// Valid reports whether m is one of the supported modes
func (m Mode) Valid() bool {
	switch m {
	case ModeRacing, ModeSoccer:
		return true
	}
	return false
}

// Decimal is an arbitrary-precision decimal kept as its literal text.
// It round-trips through PostgreSQL NUMERIC without going through float64.
type Decimal string

// MarshalJSON writes the decimal as a bare JSON number
func (d Decimal) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Decimal(n)
	return nil
}

// String returns the decimal text
func (d Decimal) String() string {
	return string(d)
}

// Split is one timestamped checkpoint within a session, keyed by its offset T
type Split struct {
	T     int64   `json:"t"`
	Lap   int64   `json:"lap"`
	Score Decimal `json:"score"`
	Note  *string `json:"note"`
}

// SessionPayload is a validated upsert request
type SessionPayload struct {
	ID         string  `json:"id"`
	Player     string  `json:"player"`
	Mode       Mode    `json:"mode"`
	StartedAt  int64   `json:"startedAt"`
	DurationMs int64   `json:"durationMs"`
	TotalScore Decimal `json:"totalScore"`
	Splits     []Split `json:"splits"`
}

// StartTime returns StartedAt as a UTC time
func (p SessionPayload) StartTime() time.Time {
	return time.UnixMilli(p.StartedAt).UTC()
}

// MaxSplitOffset returns the largest split offset in the payload, or 0 without splits
func (p SessionPayload) MaxSplitOffset() int64 {
	var highest int64
	for _, s := range p.Splits {
		if s.T > highest {
			highest = s.T
		}
	}
	return highest
}

// SessionHeader is a stored session row
type SessionHeader struct {
	ID         string    `json:"id"`
	Player     string    `json:"player"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	TotalScore Decimal   `json:"total_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionSummary is a session header annotated with its split count, used in listings
type SessionSummary struct {
	SessionHeader
	SplitCount int64 `json:"split_count"`
}

// SessionDetail is a session header with its splits ordered by offset
type SessionDetail struct {
	SessionHeader
	Splits []Split `json:"splits"`
}

// MergeResult reports the outcome of a committed merge
type MergeResult struct {
	SessionID      string `json:"upserted"`
	SplitsInserted int    `json:"splits_inserted"`
}

// SessionEvent is published after a merge commits
type SessionEvent struct {
	ID             string    `json:"id"`
	Player         string    `json:"player"`
	Mode           Mode      `json:"mode"`
	TotalScore     Decimal   `json:"total_score"`
	SplitsInserted int       `json:"splits_inserted"`
	Timestamp      time.Time `json:"timestamp"`
}
