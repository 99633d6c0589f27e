package domain

import "time"

// ListFilter narrows a session listing. Zero values mean "no filter".
type ListFilter struct {
	Player string
	Mode   Mode
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// SessionPage is one page of a session listing
type SessionPage struct {
	Data  []SessionSummary `json:"data"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
	Total int64            `json:"total"`
}

// LeaderboardEntry is the best total score of a player in a mode
type LeaderboardEntry struct {
	Player    string  `json:"player"`
	Mode      Mode    `json:"mode"`
	BestScore Decimal `json:"best_score"`
}

// PlayerSummary aggregates all sessions of one player
type PlayerSummary struct {
	Player    string  `json:"player"`
	Sessions  int64   `json:"sessions"`
	BestScore Decimal `json:"best_score"`
}

// ModeSummary aggregates all sessions of one mode
type ModeSummary struct {
	Mode     Mode    `json:"mode"`
	Sessions int64   `json:"sessions"`
	AvgScore Decimal `json:"avg_score"`
	MaxScore Decimal `json:"max_score"`
}

// ModeStats is the per-mode part of the global stats
type ModeStats struct {
	Mode     Mode    `json:"mode"`
	Sessions int64   `json:"sessions"`
	AvgScore Decimal `json:"avg_score"`
}

// Stats contains global totals
type Stats struct {
	Sessions int64       `json:"sessions"`
	Players  int64       `json:"players"`
	ByMode   []ModeStats `json:"byMode"`
}
