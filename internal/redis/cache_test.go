package redis_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/domain"
	"github.com/session-tracker/internal/redis"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestCache(t *testing.T) (*redis.QueryCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cache := redis.NewQueryCacheWithClient(client, &config.CacheConfig{
		TTL:       30 * time.Second,
		KeyPrefix: "sessions:cache",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestQueryCache(t *testing.T) {
	Convey("Given a query cache backed by Redis", t, func() {
		ctx := context.Background()
		cache, mr := newTestCache(t)

		entries := []domain.LeaderboardEntry{
			{Player: "alice", Mode: domain.ModeRacing, BestScore: "20.125"},
		}

		Convey("The generation starts at zero", func() {
			gen, err := cache.Generation(ctx)
			So(err, ShouldBeNil)
			So(gen, ShouldEqual, int64(0))
		})

		Convey("A missing entry is reported as a miss", func() {
			var got []domain.LeaderboardEntry
			ok, err := cache.Get(ctx, 0, "leaderboard:racing:10", &got)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("When an entry is stored", func() {
			So(cache.Set(ctx, 0, "leaderboard:racing:10", entries), ShouldBeNil)

			Convey("Then it is read back with decimals intact and a TTL", func() {
				var got []domain.LeaderboardEntry
				ok, err := cache.Get(ctx, 0, "leaderboard:racing:10", &got)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, entries)
				So(mr.Exists("sessions:cache:0:leaderboard:racing:10"), ShouldBeTrue)
				So(mr.TTL("sessions:cache:0:leaderboard:racing:10"), ShouldEqual, 30*time.Second)
			})

			Convey("And the cache is invalidated", func() {
				So(cache.Invalidate(ctx), ShouldBeNil)
				gen, err := cache.Generation(ctx)
				So(err, ShouldBeNil)

				Convey("Then the entry is no longer visible in the new generation", func() {
					So(gen, ShouldEqual, int64(1))
					var got []domain.LeaderboardEntry
					ok, err := cache.Get(ctx, gen, "leaderboard:racing:10", &got)
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				})
			})

			Convey("And the entry expires", func() {
				mr.FastForward(31 * time.Second)
				var got []domain.LeaderboardEntry
				ok, err := cache.Get(ctx, 0, "leaderboard:racing:10", &got)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("A corrupt entry surfaces a decode error", func() {
			So(mr.Set("sessions:cache:0:stats", "not json"), ShouldBeNil)
			var got domain.Stats
			_, err := cache.Get(ctx, 0, "stats", &got)
			So(err, ShouldNotBeNil)
		})

		Convey("An unreachable server surfaces errors", func() {
			mr.Close()
			_, err := cache.Generation(ctx)
			So(err, ShouldNotBeNil)
		})
	})
}
