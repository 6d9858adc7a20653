package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestHourKey(t *testing.T) {
	at := time.Date(2026, 8, 30, 14, 35, 12, 0, time.UTC)
	assert.Equal(t, "metrics:api:moviedb:2026-08-30T14", hourKey("moviedb", at))

	// Non-UTC times land in the same bucket.
	assert.Equal(t, hourKey("moviedb", at), hourKey("moviedb", at.In(time.FixedZone("CEST", 2*3600))))
}

func TestRecorderWritesHourBuckets(t *testing.T) {
	mr, client := newTestRedis(t)
	rec := NewRecorder(client, prometheus.NewRegistry(), zap.NewNop())
	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return at }

	rec.Hit("moviedb", "fresh")
	rec.Hit("moviedb", "stale")
	rec.Coalesced("moviedb")
	rec.Call("moviedb", 120*time.Millisecond)
	rec.Call("moviedb", 80*time.Millisecond)
	rec.Error("moviedb")
	rec.Flush()

	key := "metrics:api:moviedb:2026-08-30T14"
	assert.Equal(t, "2", mr.HGet(key, "hits"))
	assert.Equal(t, "1", mr.HGet(key, "coalesced"))
	assert.Equal(t, "2", mr.HGet(key, "calls"))
	assert.Equal(t, "1", mr.HGet(key, "errors"))
	assert.Equal(t, "200", mr.HGet(key, "latency_ms"))
	assert.Equal(t, "2", mr.HGet(key, "latency_n"))

	ttl := mr.TTL(key)
	assert.Greater(t, ttl, 29*24*time.Hour)
}

func TestRecorderWithoutSharedStore(t *testing.T) {
	rec := NewRecorder(nil, prometheus.NewRegistry(), zap.NewNop())
	rec.Hit("moviedb", "fresh")
	rec.Call("moviedb", time.Millisecond)
	rec.Flush() // nothing pending, nothing panics
}

func TestRecorderSwallowsWriteFailures(t *testing.T) {
	mr, client := newTestRedis(t)
	rec := NewRecorder(client, prometheus.NewRegistry(), zap.NewNop())

	mr.Close()
	rec.Error("moviedb")
	rec.Flush()
}

func TestReaderAggregatesAcrossHours(t *testing.T) {
	_, client := newTestRedis(t)
	rec := NewRecorder(client, prometheus.NewRegistry(), zap.NewNop())

	base := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	for h := 0; h < 2; h++ {
		at := base.Add(-time.Duration(h) * time.Hour)
		rec.now = func() time.Time { return at }
		rec.Hit("moviedb", "fresh")
		rec.Hit("moviedb", "fresh")
		rec.Hit("moviedb", "fresh")
		rec.Call("moviedb", 100*time.Millisecond)
	}
	rec.Flush()

	reader := NewReader(client)
	reader.now = func() time.Time { return base }

	summaries, err := reader.GetAPIMetrics(context.Background(), []string{"moviedb", "gamesdb"}, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	m := summaries[0]
	assert.Equal(t, "moviedb", m.Provider)
	assert.Equal(t, int64(6), m.Hits)
	assert.Equal(t, int64(2), m.Calls)
	assert.InDelta(t, 0.75, m.HitRate, 1e-9)
	assert.InDelta(t, 100, m.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 1, m.CallsPerHour, 1e-9)
	assert.InDelta(t, 1.0/60, m.CallsPerMinute, 1e-9)

	// A provider without traffic reads as zeros, not as an error.
	g := summaries[1]
	assert.Equal(t, "gamesdb", g.Provider)
	assert.Zero(t, g.Calls)
	assert.Zero(t, g.HitRate)
}

func TestReaderUnavailable(t *testing.T) {
	reader := NewReader(nil)
	_, err := reader.GetAPIMetrics(context.Background(), []string{"moviedb"}, 24)
	assert.ErrorIs(t, err, ErrUnavailable)

	mr, client := newTestRedis(t)
	mr.Close()
	reader = NewReader(client)
	_, err = reader.GetAPIMetrics(context.Background(), []string{"moviedb"}, 24)
	assert.ErrorIs(t, err, ErrUnavailable)
}
