package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediatrack/metacache/metrics"
)

// Lookup sources, also used as the metrics hit classification.
const (
	SourceFresh     = "fresh"
	SourceStale     = "stale"
	SourceCoalesced = "coalesced"
	SourceFetch     = "fetch"
)

// FetchFunc produces the results for one cache key, typically by calling an
// upstream provider through its rate limiter and the resilient fetch layer.
type FetchFunc func(ctx context.Context) ([]Result, error)

// ValueFetchFunc is the single-value analogue used by the detail cache.
type ValueFetchFunc func(ctx context.Context) (Result, error)

// DebugInfo describes how a lookup was served. It is only populated when
// the service runs with WithDebugInfo(true); production responses carry nil
// so cache timing never leaks to clients.
type DebugInfo struct {
	Source          string `json:"source"`
	Key             string `json:"key"`
	Provider        string `json:"provider"`
	FetchID         string `json:"fetchId,omitempty"`
	AgeMs           int64  `json:"ageMs"`
	FetchDurationMs int64  `json:"fetchDurationMs"`
}

// Lookup is the result of GetOrFetch.
type Lookup struct {
	Results []Result
	Debug   *DebugInfo
}

// ValueLookup is the result of GetOrFetchValue.
type ValueLookup struct {
	Value Result
	Debug *DebugInfo
}

// call is one in-flight list fetch, shared by every caller awaiting its key.
type call struct {
	id       string
	done     chan struct{}
	results  []Result
	err      error
	duration time.Duration
}

type valueCall struct {
	id       string
	done     chan struct{}
	value    Result
	err      error
	duration time.Duration
}

type serviceConfig struct {
	debugInfo bool
	detailTTL time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

// WithDebugInfo attaches DebugInfo to every lookup. Meant for development.
func WithDebugInfo(on bool) ServiceOption {
	return func(c *serviceConfig) { c.debugInfo = on }
}

// WithDetailTTL overrides the detail cache TTL (default 24h).
func WithDetailTTL(d time.Duration) ServiceOption {
	return func(c *serviceConfig) { c.detailTTL = d }
}

// Service is the request-coalescing, stale-while-revalidate cache front for
// upstream provider fetches. Construct one per process; all cache and
// in-flight state lives on it.
type Service struct {
	lists   *Store[Entry]
	details *Store[ValueEntry]
	rec     *metrics.Recorder
	log     *zap.Logger
	cfg     serviceConfig

	mu          sync.Mutex
	inflight    map[string]*call
	valueFlight map[string]*valueCall

	now func() time.Time
}

// New returns a Service over the given stores. rec may be nil to disable
// metrics entirely.
func New(lists *Store[Entry], details *Store[ValueEntry], rec *metrics.Recorder, log *zap.Logger, opts ...ServiceOption) *Service {
	cfg := serviceConfig{detailTTL: DefaultDetailTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		lists:       lists,
		details:     details,
		rec:         rec,
		log:         log,
		cfg:         cfg,
		inflight:    make(map[string]*call),
		valueFlight: make(map[string]*valueCall),
		now:         time.Now,
	}
}

// GetOrFetch returns the cached results for key, fetching via fn when
// needed. A fresh entry is returned as-is; a stale one is returned while a
// background refresh runs; otherwise the caller either joins the in-flight
// fetch for the key or starts it. Concurrent callers for one key share a
// single upstream fetch, and share its error if it fails. The fetch is not
// cancelled when the caller's context ends; a completed result is cached
// for whoever asks next.
func (s *Service) GetOrFetch(ctx context.Context, key string, tier Tier, provider string, fn FetchFunc) (Lookup, error) {
	now := s.now()
	entry, ok := s.lists.Get(ctx, key)
	if ok && now.Before(entry.StaleAt) {
		if s.rec != nil {
			s.rec.Hit(provider, SourceFresh)
		}
		return Lookup{Results: entry.Results, Debug: s.debugFor(SourceFresh, key, provider, "", now.Sub(entry.CreatedAt), 0)}, nil
	}
	if ok && now.Before(entry.ExpiresAt) {
		s.revalidate(ctx, key, tier, provider, fn)
		if s.rec != nil {
			s.rec.Hit(provider, SourceStale)
		}
		return Lookup{Results: entry.Results, Debug: s.debugFor(SourceStale, key, provider, "", now.Sub(entry.CreatedAt), 0)}, nil
	}

	c, started := s.begin(key)
	if !started {
		<-c.done
		if c.err != nil {
			return Lookup{}, c.err
		}
		if s.rec != nil {
			s.rec.Coalesced(provider)
		}
		return Lookup{Results: c.results, Debug: s.debugFor(SourceCoalesced, key, provider, c.id, 0, c.duration)}, nil
	}
	s.run(ctx, c, key, tier, provider, fn)
	if c.err != nil {
		return Lookup{}, c.err
	}
	return Lookup{Results: c.results, Debug: s.debugFor(SourceFetch, key, provider, c.id, 0, c.duration)}, nil
}

// begin registers a new in-flight call for key, or returns the existing one
// with started=false. At most one call per key exists at any instant.
func (s *Service) begin(key string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.inflight[key]; ok {
		return c, false
	}
	c := &call{id: uuid.NewString(), done: make(chan struct{})}
	s.inflight[key] = c
	return c, true
}

// run executes the fetch for an in-flight call, stores the result, records
// metrics, and settles the call. The in-flight entry is removed
// unconditionally so a failed key retries cleanly on the next request.
func (s *Service) run(ctx context.Context, c *call, key string, tier Tier, provider string, fn FetchFunc) {
	fctx := context.WithoutCancel(ctx)
	start := time.Now()
	results, err := fn(fctx)
	c.duration = time.Since(start)
	if err != nil {
		c.err = err
		if s.rec != nil {
			s.rec.Error(provider)
		}
	} else {
		c.results = results
		if s.rec != nil {
			s.rec.Call(provider, c.duration)
		}
		s.lists.Set(fctx, key, NewEntry(results, tier, s.now()))
	}
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(c.done)
}

// revalidate starts a background refresh for a stale key unless a fetch is
// already in flight. Failures are logged and swallowed; the stale entry
// keeps serving until its own expiry.
func (s *Service) revalidate(ctx context.Context, key string, tier Tier, provider string, fn FetchFunc) {
	c, started := s.begin(key)
	if !started {
		return
	}
	s.log.Debug("revalidating stale cache entry",
		zap.String("key", key), zap.String("provider", provider), zap.String("fetch_id", c.id))
	go func() {
		s.run(ctx, c, key, tier, provider, fn)
		if c.err != nil {
			s.log.Warn("background revalidation failed",
				zap.String("key", key), zap.String("provider", provider),
				zap.String("fetch_id", c.id), zap.Error(c.err))
		}
	}()
}

// GetOrFetchValue is the detail-cache analogue of GetOrFetch: same
// coalescing discipline, but entries are either valid or missing — there is
// no stale window and no background refresh.
func (s *Service) GetOrFetchValue(ctx context.Context, key string, provider string, fn ValueFetchFunc) (ValueLookup, error) {
	now := s.now()
	entry, ok := s.details.Get(ctx, key)
	if ok {
		if s.rec != nil {
			s.rec.Hit(provider, SourceFresh)
		}
		return ValueLookup{Value: entry.Value, Debug: s.debugFor(SourceFresh, key, provider, "", now.Sub(entry.CreatedAt), 0)}, nil
	}

	s.mu.Lock()
	c, started := s.valueFlight[key], false
	if c == nil {
		c = &valueCall{id: uuid.NewString(), done: make(chan struct{})}
		s.valueFlight[key] = c
		started = true
	}
	s.mu.Unlock()

	if !started {
		<-c.done
		if c.err != nil {
			return ValueLookup{}, c.err
		}
		if s.rec != nil {
			s.rec.Coalesced(provider)
		}
		return ValueLookup{Value: c.value, Debug: s.debugFor(SourceCoalesced, key, provider, c.id, 0, c.duration)}, nil
	}

	fctx := context.WithoutCancel(ctx)
	start := time.Now()
	value, err := fn(fctx)
	c.duration = time.Since(start)
	if err != nil {
		c.err = err
		if s.rec != nil {
			s.rec.Error(provider)
		}
	} else {
		c.value = value
		if s.rec != nil {
			s.rec.Call(provider, c.duration)
		}
		s.details.Set(fctx, key, NewValueEntry(value, s.cfg.detailTTL, s.now()))
	}
	s.mu.Lock()
	delete(s.valueFlight, key)
	s.mu.Unlock()
	close(c.done)

	if c.err != nil {
		return ValueLookup{}, c.err
	}
	return ValueLookup{Value: c.value, Debug: s.debugFor(SourceFetch, key, provider, c.id, 0, c.duration)}, nil
}

func (s *Service) debugFor(source, key, provider, fetchID string, age, fetchDuration time.Duration) *DebugInfo {
	if !s.cfg.debugInfo {
		return nil
	}
	return &DebugInfo{
		Source:          source,
		Key:             key,
		Provider:        provider,
		FetchID:         fetchID,
		AgeMs:           age.Milliseconds(),
		FetchDurationMs: fetchDuration.Milliseconds(),
	}
}
