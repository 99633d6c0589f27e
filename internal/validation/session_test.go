package validation_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/validation"
	. "github.com/smartystreets/goconvey/convey"
)

func body(fields map[string]any) []byte {
	base := map[string]any{
		"id":         "sess-001",
		"player":     "alice",
		"mode":       "racing",
		"startedAt":  1700000000000,
		"durationMs": 500,
		"totalScore": 42.5,
		"splits": []any{
			map[string]any{"t": 100, "lap": 1, "score": 10},
			map[string]any{"t": 500, "lap": 2, "score": 32.5, "note": "finish"},
		},
	}
	for k, v := range fields {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	data, _ := json.Marshal(base)
	return data
}

func validationErr(err error) *domain.ValidationError {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

func TestParseSession(t *testing.T) {
	Convey("Given a well-formed session payload", t, func() {
		p, err := validation.ParseSession(body(nil))

		Convey("Then it parses into typed values", func() {
			So(err, ShouldBeNil)
			So(p.ID, ShouldEqual, "sess-001")
			So(p.Player, ShouldEqual, "alice")
			So(p.Mode, ShouldEqual, domain.ModeRacing)
			So(p.StartedAt, ShouldEqual, int64(1700000000000))
			So(p.DurationMs, ShouldEqual, int64(500))
			So(p.TotalScore, ShouldEqual, domain.Decimal("42.5"))
			So(p.Splits, ShouldHaveLength, 2)
			So(p.Splits[0].Note, ShouldBeNil)
			So(*p.Splits[1].Note, ShouldEqual, "finish")
			So(p.Splits[1].Score, ShouldEqual, domain.Decimal("32.5"))
		})
	})

	Convey("Given decimal scores with more precision than float64", t, func() {
		raw := []byte(`{"id":"abc","player":"p","mode":"soccer","startedAt":0,"durationMs":0,` +
			`"totalScore":12345678901234567890.123456789,"splits":[]}`)
		p, err := validation.ParseSession(raw)

		Convey("Then the literal text is preserved", func() {
			So(err, ShouldBeNil)
			So(p.TotalScore.String(), ShouldEqual, "12345678901234567890.123456789")
		})
	})

	Convey("Given the duration invariant", t, func() {
		Convey("When durationMs is below the largest split offset", func() {
			_, err := validation.ParseSession(body(map[string]any{
				"durationMs": 100,
				"splits":     []any{map[string]any{"t": 500, "lap": 0, "score": 1}},
			}))

			Convey("Then the payload is rejected on durationMs", func() {
				ve := validationErr(err)
				So(ve, ShouldNotBeNil)
				So(ve.FieldErrors, ShouldContainKey, "durationMs")
			})
		})

		Convey("When durationMs equals the largest split offset", func() {
			_, err := validation.ParseSession(body(map[string]any{
				"durationMs": 500,
				"splits":     []any{map[string]any{"t": 500, "lap": 0, "score": 1}},
			}))

			Convey("Then the payload is accepted", func() {
				So(err, ShouldBeNil)
			})
		})

		Convey("When there are no splits", func() {
			p, err := validation.ParseSession(body(map[string]any{"durationMs": 0, "splits": []any{}}))

			Convey("Then any non-negative duration is accepted", func() {
				So(err, ShouldBeNil)
				So(p.Splits, ShouldBeEmpty)
			})
		})

		Convey("When splits are omitted entirely", func() {
			p, err := validation.ParseSession(body(map[string]any{"splits": nil}))

			Convey("Then they default to an empty list", func() {
				So(err, ShouldBeNil)
				So(p.Splits, ShouldNotBeNil)
				So(p.Splits, ShouldBeEmpty)
			})
		})
	})

	Convey("Given structurally invalid payloads", t, func() {
		cases := []struct {
			name  string
			patch map[string]any
			field string
		}{
			{"short id", map[string]any{"id": "ab"}, "id"},
			{"missing id", map[string]any{"id": nil}, "id"},
			{"numeric id", map[string]any{"id": 12345}, "id"},
			{"empty player", map[string]any{"player": ""}, "player"},
			{"unknown mode", map[string]any{"mode": "chess"}, "mode"},
			{"negative start", map[string]any{"startedAt": -1}, "startedAt"},
			{"fractional duration", map[string]any{"durationMs": 10.5}, "durationMs"},
			{"string score", map[string]any{"totalScore": "lots"}, "totalScore"},
			{"splits object", map[string]any{"splits": map[string]any{}}, "splits"},
			{"negative split t", map[string]any{"splits": []any{map[string]any{"t": -5, "lap": 0, "score": 1}}}, "splits.0.t"},
			{"negative lap", map[string]any{"splits": []any{map[string]any{"t": 5, "lap": -1, "score": 1}}}, "splits.0.lap"},
			{"missing split score", map[string]any{"splits": []any{map[string]any{"t": 5, "lap": 1}}}, "splits.0.score"},
			{"numeric note", map[string]any{"splits": []any{map[string]any{"t": 5, "lap": 1, "score": 1, "note": 3}}}, "splits.0.note"},
			{"split not an object", map[string]any{"splits": []any{"x"}}, "splits.0"},
			{"start beyond int64", map[string]any{"startedAt": json.Number("9223372036854775808")}, "startedAt"},
			{"start beyond timestamptz", map[string]any{"startedAt": json.Number("9224318016000000")}, "startedAt"},
			{"duration beyond int64", map[string]any{"durationMs": json.Number("9223372036854775808")}, "durationMs"},
			{"duration beyond int64 with fraction", map[string]any{"durationMs": json.Number("9223372036854775808.0")}, "durationMs"},
			{"split t beyond int64", map[string]any{"splits": []any{map[string]any{"t": json.Number("9223372036854775808"), "lap": 0, "score": 1}}}, "splits.0.t"},
			{"lap beyond int64", map[string]any{"splits": []any{map[string]any{"t": 5, "lap": json.Number("9.223372036854775808e18"), "score": 1}}}, "splits.0.lap"},
		}

		for _, tc := range cases {
			tc := tc
			Convey(fmt.Sprintf("When the payload has a %s", tc.name), func() {
				_, err := validation.ParseSession(body(tc.patch))

				Convey("Then the failure names "+tc.field, func() {
					ve := validationErr(err)
					So(ve, ShouldNotBeNil)
					So(ve.FieldErrors, ShouldContainKey, tc.field)
				})
			})
		}
	})

	Convey("Given a structural failure together with a duration violation", t, func() {
		_, err := validation.ParseSession(body(map[string]any{
			"player":     "",
			"durationMs": 1,
			"splits":     []any{map[string]any{"t": 10, "lap": 0, "score": 1}},
		}))

		Convey("Then only the structural failure is reported", func() {
			ve := validationErr(err)
			So(ve, ShouldNotBeNil)
			So(ve.FieldErrors, ShouldContainKey, "player")
			So(ve.FieldErrors, ShouldNotContainKey, "durationMs")
		})
	})

	Convey("Given too many splits", t, func() {
		var sb strings.Builder
		sb.WriteString(`{"id":"big","player":"p","mode":"racing","startedAt":0,"durationMs":0,"totalScore":0,"splits":[`)
		for i := 0; i <= validation.MaxSplits; i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(`{"t":0,"lap":0,"score":0}`)
		}
		sb.WriteString(`]}`)

		_, err := validation.ParseSession([]byte(sb.String()))

		Convey("Then the array size is rejected", func() {
			ve := validationErr(err)
			So(ve, ShouldNotBeNil)
			So(ve.FieldErrors, ShouldContainKey, "splits")
		})
	})

	Convey("Given bodies that are not a single JSON object", t, func() {
		for _, raw := range []string{`not json`, `[1,2]`, `{"id":"abc"} {}`} {
			_, err := validation.ParseSession([]byte(raw))
			ve := validationErr(err)
			So(ve, ShouldNotBeNil)
			So(ve.FormErrors, ShouldNotBeEmpty)
		}
	})
}

func TestValidateFloatDocument(t *testing.T) {
	Convey("Given a document decoded without UseNumber", t, func() {
		doc := map[string]any{
			"id":         "float-doc",
			"player":     "bob",
			"mode":       "soccer",
			"startedAt":  float64(1000),
			"durationMs": float64(250),
			"totalScore": 3.75,
			"splits":     []any{map[string]any{"t": float64(250), "lap": float64(1), "score": 3.75, "note": nil}},
		}

		p, err := validation.Validate(doc)

		Convey("Then float64 numbers are accepted", func() {
			So(err, ShouldBeNil)
			So(p.DurationMs, ShouldEqual, int64(250))
			So(p.TotalScore, ShouldEqual, domain.Decimal("3.75"))
			So(p.Splits[0].T, ShouldEqual, int64(250))
		})
	})

	Convey("Given a float64 document with values at the int64 boundary", t, func() {
		doc := map[string]any{
			"id":         "float-edge",
			"player":     "bob",
			"mode":       "racing",
			"startedAt":  float64(1 << 63),
			"durationMs": float64(1 << 63),
			"totalScore": 1.0,
			"splits":     []any{map[string]any{"t": float64(1 << 63), "lap": float64(1 << 63), "score": 1.0}},
		}

		_, err := validation.Validate(doc)

		Convey("Then every out-of-range field is rejected instead of wrapping negative", func() {
			ve := validationErr(err)
			So(ve, ShouldNotBeNil)
			So(ve.FieldErrors, ShouldContainKey, "startedAt")
			So(ve.FieldErrors, ShouldContainKey, "durationMs")
			So(ve.FieldErrors, ShouldContainKey, "splits.0.t")
			So(ve.FieldErrors, ShouldContainKey, "splits.0.lap")
		})
	})

	Convey("Given the latest start a timestamptz can hold", t, func() {
		doc := map[string]any{
			"id":         "late-start",
			"player":     "bob",
			"mode":       "racing",
			"startedAt":  json.Number("9224318015999999"),
			"durationMs": json.Number("0"),
			"totalScore": json.Number("1"),
		}

		p, err := validation.Validate(doc)

		Convey("Then it is accepted", func() {
			So(err, ShouldBeNil)
			So(p.StartedAt, ShouldEqual, validation.MaxStartedAt)
		})
	})
}
