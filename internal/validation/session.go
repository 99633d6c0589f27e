// Package validation turns untrusted session payloads into typed domain values.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/session-tracker/internal/domain"
)

const (
	// MinIDLength is the minimum number of characters of a session id
	MinIDLength = 3
	// MaxSplits bounds the number of splits accepted in one payload
	MaxSplits = 200_000
	// MaxStartedAt is the last millisecond of 294276-12-31 UTC, the upper
	// bound of a PostgreSQL timestamptz
	MaxStartedAt int64 = 9_224_318_015_999_999
)

// twoTo63 is the first float64 that does not fit in an int64
const twoTo63 = float64(1 << 63)

// ParseSession decodes a JSON body and validates it.
// The returned error is always a *domain.ValidationError.
func ParseSession(body []byte) (domain.SessionPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		ve := domain.NewValidationError()
		ve.AddForm("body must be valid JSON")
		return domain.SessionPayload{}, ve
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		ve := domain.NewValidationError()
		ve.AddForm("body must contain a single JSON value")
		return domain.SessionPayload{}, ve
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		ve := domain.NewValidationError()
		ve.AddForm("body must be a JSON object")
		return domain.SessionPayload{}, ve
	}
	return Validate(obj)
}

// Validate checks the shape of a decoded document and then the
// duration/split invariant. Numbers may be json.Number or float64.
//
// The duration is only compared against the splits present in this
// document; splits stored by earlier submissions are not consulted.
func Validate(doc map[string]any) (domain.SessionPayload, error) {
	ve := domain.NewValidationError()
	var p domain.SessionPayload

	if id, ok := requireString(ve, doc, "id"); ok {
		if utf8.RuneCountInString(id) < MinIDLength {
			ve.Add("id", fmt.Sprintf("must contain at least %d characters", MinIDLength))
		}
		p.ID = id
	}

	if player, ok := requireString(ve, doc, "player"); ok {
		if player == "" {
			ve.Add("player", "must not be empty")
		}
		p.Player = player
	}

	if mode, ok := requireString(ve, doc, "mode"); ok {
		p.Mode = domain.Mode(mode)
		if !p.Mode.Valid() {
			ve.Add("mode", fmt.Sprintf("must be one of %q, %q", domain.ModeRacing, domain.ModeSoccer))
		}
	}

	if v, ok := requireField(ve, doc, "startedAt"); ok {
		if n, ok := nonNegativeInt(v); !ok {
			ve.Add("startedAt", "must be a non-negative integer (epoch milliseconds)")
		} else if n > MaxStartedAt {
			ve.Add("startedAt", fmt.Sprintf("must not be after %d", MaxStartedAt))
		} else {
			p.StartedAt = n
		}
	}

	if v, ok := requireField(ve, doc, "durationMs"); ok {
		if n, ok := nonNegativeInt(v); ok {
			p.DurationMs = n
		} else {
			ve.Add("durationMs", "must be a non-negative integer")
		}
	}

	if v, ok := requireField(ve, doc, "totalScore"); ok {
		if d, ok := decimal(v); ok {
			p.TotalScore = d
		} else {
			ve.Add("totalScore", "must be a number")
		}
	}

	p.Splits = parseSplits(ve, doc)

	if !ve.Empty() {
		return domain.SessionPayload{}, ve
	}

	if maxT := p.MaxSplitOffset(); p.DurationMs < maxT {
		ve.Add("durationMs", fmt.Sprintf("must be greater than or equal to the largest split offset (%d)", maxT))
		return domain.SessionPayload{}, ve
	}

	return p, nil
}

func parseSplits(ve *domain.ValidationError, doc map[string]any) []domain.Split {
	raw, present := doc["splits"]
	if !present {
		return []domain.Split{}
	}
	items, ok := raw.([]any)
	if !ok {
		ve.Add("splits", "must be an array")
		return nil
	}
	if len(items) > MaxSplits {
		ve.Add("splits", fmt.Sprintf("must contain at most %d items", MaxSplits))
		return nil
	}

	splits := make([]domain.Split, 0, len(items))
	for i, item := range items {
		prefix := "splits." + strconv.Itoa(i)
		obj, ok := item.(map[string]any)
		if !ok {
			ve.Add(prefix, "must be an object")
			continue
		}

		var s domain.Split
		if v, ok := requireField(ve, obj, "t", prefix); ok {
			if n, ok := nonNegativeInt(v); ok {
				s.T = n
			} else {
				ve.Add(prefix+".t", "must be a non-negative integer")
			}
		}
		if v, ok := requireField(ve, obj, "lap", prefix); ok {
			if n, ok := nonNegativeInt(v); ok {
				s.Lap = n
			} else {
				ve.Add(prefix+".lap", "must be a non-negative integer")
			}
		}
		if v, ok := requireField(ve, obj, "score", prefix); ok {
			if d, ok := decimal(v); ok {
				s.Score = d
			} else {
				ve.Add(prefix+".score", "must be a number")
			}
		}
		switch note := obj["note"].(type) {
		case nil:
		case string:
			s.Note = &note
		default:
			ve.Add(prefix+".note", "must be a string or null")
		}
		splits = append(splits, s)
	}
	return splits
}

// requireField reports a missing key under prefix.key
func requireField(ve *domain.ValidationError, obj map[string]any, key string, prefix ...string) (any, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		path := key
		if len(prefix) > 0 {
			path = prefix[0] + "." + key
		}
		ve.Add(path, "is required")
		return nil, false
	}
	return v, true
}

func requireString(ve *domain.ValidationError, obj map[string]any, key string) (string, bool) {
	v, ok := requireField(ve, obj, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		ve.Add(key, "must be a string")
		return "", false
	}
	return s, true
}

func nonNegativeInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			// accept integral values written with a fraction or exponent, e.g. 1.0 or 1e3
			f, ferr := n.Float64()
			if ferr != nil || f != math.Trunc(f) || f < 0 || f >= twoTo63 {
				return 0, false
			}
			return int64(f), true
		}
		return i, i >= 0
	case float64:
		if n != math.Trunc(n) || n < 0 || n >= twoTo63 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func decimal(v any) (domain.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		return domain.Decimal(n.String()), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", false
		}
		return domain.Decimal(strconv.FormatFloat(n, 'f', -1, 64)), true
	}
	return "", false
}
