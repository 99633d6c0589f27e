package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/session-tracker/internal/domain"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// liveSession is a session still being played. Every advance appends one
// split and recomputes the header, so each snapshot is a superset of the last.
type liveSession struct {
	payload   domain.SessionPayload
	cents     int64
	maxSplits int
}

func newLiveSession(player string, mode domain.Mode, start time.Time, maxSplits int) *liveSession {
	return &liveSession{
		payload: domain.SessionPayload{
			ID:         uuid.NewString(),
			Player:     player,
			Mode:       mode,
			StartedAt:  start.UnixMilli(),
			TotalScore: "0.00",
			Splits:     []domain.Split{},
		},
		maxSplits: maxSplits,
	}
}

// advance records the next split and reports whether the session is finished
func (s *liveSession) advance(rng *rand.Rand) bool {
	var last int64
	if n := len(s.payload.Splits); n > 0 {
		last = s.payload.Splits[n-1].T
	}
	t := last + int64(rng.Intn(4000)+1000)

	var points int64
	var note *string
	switch s.payload.Mode {
	case domain.ModeSoccer:
		if rng.Intn(5) == 0 {
			points = 100
			goal := "goal"
			note = &goal
		}
	default:
		points = int64(rng.Intn(1000))
	}
	s.cents += points

	s.payload.Splits = append(s.payload.Splits, domain.Split{
		T:     t,
		Lap:   int64(len(s.payload.Splits)/4 + 1),
		Score: centsToDecimal(points),
		Note:  note,
	})
	s.payload.DurationMs = t
	s.payload.TotalScore = centsToDecimal(s.cents)

	return len(s.payload.Splits) >= s.maxSplits
}

func centsToDecimal(cents int64) domain.Decimal {
	return domain.Decimal(fmt.Sprintf("%d.%02d", cents/100, cents%100))
}
