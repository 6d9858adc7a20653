// Package metrics records per-provider API cache counters. Counters are
// written fire-and-forget to hour buckets in the shared Redis store for the
// admin dashboard, and mirrored into Prometheus collectors for process-local
// scraping. Writes are best-effort: they never block or fail a request.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable is returned by Reader when the shared store is not
// reachable, so dashboards can show "unavailable" instead of zeros.
var ErrUnavailable = errors.New("metrics unavailable: no shared store")

// Buckets expire after 30 days.
const bucketTTL = 30 * 24 * time.Hour

const keyPrefix = "metrics:api"

const writeTimeout = 2 * time.Second

// hourKey buckets by provider and UTC hour, e.g. "metrics:api:moviedb:2026-08-30T14".
func hourKey(provider string, t time.Time) string {
	return keyPrefix + ":" + provider + ":" + t.UTC().Format("2006-01-02T15")
}

// Recorder increments hour-bucketed counters for one process. The zero
// counters for an hour-provider pair appear implicitly on first write.
type Recorder struct {
	client *redis.Client // nil disables the shared-store side
	log    *zap.Logger

	hits    *prometheus.CounterVec
	calls   *prometheus.CounterVec
	errs    *prometheus.CounterVec
	latency *prometheus.HistogramVec

	now func() time.Time
	wg  sync.WaitGroup
}

// NewRecorder returns a Recorder writing to client (nil for in-process
// Prometheus mirroring only) and registering its collectors with reg
// (nil for the default registerer).
func NewRecorder(client *redis.Client, reg prometheus.Registerer, log *zap.Logger) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = zap.NewNop()
	}
	factory := promauto.With(reg)
	return &Recorder{
		client: client,
		log:    log,
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metacache_cache_hits_total",
			Help: "Cache lookups served without an upstream call.",
		}, []string{"provider", "source"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metacache_upstream_calls_total",
			Help: "Completed upstream API calls.",
		}, []string{"provider"}),
		errs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metacache_upstream_errors_total",
			Help: "Failed upstream API calls.",
		}, []string{"provider"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metacache_upstream_latency_seconds",
			Help:    "Upstream API call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		now: time.Now,
	}
}

// Hit records a lookup served from cache. source is "fresh" or "stale".
func (r *Recorder) Hit(provider, source string) {
	r.hits.WithLabelValues(provider, source).Inc()
	r.write(provider, "hits", 0)
}

// Coalesced records a lookup that joined an in-flight fetch instead of
// issuing its own upstream call.
func (r *Recorder) Coalesced(provider string) {
	r.hits.WithLabelValues(provider, "coalesced").Inc()
	r.write(provider, "coalesced", 0)
}

// Call records a completed upstream call and its latency.
func (r *Recorder) Call(provider string, latency time.Duration) {
	r.calls.WithLabelValues(provider).Inc()
	r.latency.WithLabelValues(provider).Observe(latency.Seconds())
	r.write(provider, "calls", latency)
}

// Error records a failed upstream call.
func (r *Recorder) Error(provider string) {
	r.errs.WithLabelValues(provider).Inc()
	r.write(provider, "errors", 0)
}

// write increments the hour bucket in Redis on a detached goroutine.
func (r *Recorder) write(provider, field string, latency time.Duration) {
	if r.client == nil {
		return
	}
	key := hourKey(provider, r.now())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		pipe := r.client.Pipeline()
		pipe.HIncrBy(ctx, key, field, 1)
		if field == "calls" {
			pipe.HIncrBy(ctx, key, "latency_ms", latency.Milliseconds())
			pipe.HIncrBy(ctx, key, "latency_n", 1)
		}
		pipe.Expire(ctx, key, bucketTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			r.log.Debug("metrics write failed",
				zap.String("provider", provider), zap.String("field", field), zap.Error(err))
		}
	}()
}

// Flush waits for in-flight writes. Intended for shutdown and tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

// Summary aggregates one provider's buckets over a window.
type Summary struct {
	Provider       string  `json:"provider"`
	Hits           int64   `json:"hits"`
	Coalesced      int64   `json:"coalesced"`
	Calls          int64   `json:"calls"`
	Errors         int64   `json:"errors"`
	HitRate        float64 `json:"hitRate"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
	CallsPerHour   float64 `json:"callsPerHour"`
	CallsPerMinute float64 `json:"callsPerMinute"`
	CallsPerSecond float64 `json:"callsPerSecond"`
}

// Reader aggregates hour buckets for dashboard consumption.
type Reader struct {
	client *redis.Client
	now    func() time.Time
}

// NewReader returns a Reader over the shared store; client may be nil, in
// which case every read reports ErrUnavailable.
func NewReader(client *redis.Client) *Reader {
	return &Reader{client: client, now: time.Now}
}

// GetAPIMetrics aggregates the last hours buckets for each provider. All
// providers are read concurrently. Any shared-store failure surfaces as an
// error wrapping ErrUnavailable rather than a misleading zeroed summary.
func (r *Reader) GetAPIMetrics(ctx context.Context, providers []string, hours int) ([]Summary, error) {
	if r.client == nil {
		return nil, ErrUnavailable
	}
	if hours <= 0 {
		hours = 1
	}
	now := r.now()
	summaries := make([]Summary, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range providers {
		i, provider := i, provider
		g.Go(func() error {
			s := Summary{Provider: provider}
			var latencyMs, latencyN int64
			for h := 0; h < hours; h++ {
				fields, err := r.client.HGetAll(gctx, hourKey(provider, now.Add(-time.Duration(h)*time.Hour))).Result()
				if err != nil {
					return fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				s.Hits += intField(fields, "hits")
				s.Coalesced += intField(fields, "coalesced")
				s.Calls += intField(fields, "calls")
				s.Errors += intField(fields, "errors")
				latencyMs += intField(fields, "latency_ms")
				latencyN += intField(fields, "latency_n")
			}
			served := s.Hits + s.Coalesced + s.Calls
			if served > 0 {
				s.HitRate = float64(s.Hits+s.Coalesced) / float64(served)
			}
			if latencyN > 0 {
				s.AvgLatencyMs = float64(latencyMs) / float64(latencyN)
			}
			s.CallsPerHour = float64(s.Calls) / float64(hours)
			s.CallsPerMinute = s.CallsPerHour / 60
			s.CallsPerSecond = s.CallsPerMinute / 60
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func intField(fields map[string]string, name string) int64 {
	v, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
