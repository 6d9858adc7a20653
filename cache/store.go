package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// DefaultListCapacity bounds the in-process fallback for list entries.
const DefaultListCapacity = 500

// DefaultDetailCapacity bounds the in-process fallback for detail entries.
const DefaultDetailCapacity = 200

// DefaultDetailTTL is the fixed TTL for detail (single-value) entries.
const DefaultDetailTTL = 24 * time.Hour

// DefaultQueryTimeout caps each shared-store round trip so a slow Redis
// degrades to the local map instead of stalling requests.
const DefaultQueryTimeout = 5 * time.Second

type storeConfig struct {
	prefix       string
	capacity     int
	queryTimeout time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

// WithPrefix sets the key prefix used on the shared store.
func WithPrefix(p string) StoreOption {
	return func(c *storeConfig) { c.prefix = p }
}

// WithCapacity sets the in-process fallback's maximum entry count.
func WithCapacity(n int) StoreOption {
	return func(c *storeConfig) { c.capacity = n }
}

// WithQueryTimeout sets the per-operation timeout for shared-store calls.
func WithQueryTimeout(d time.Duration) StoreOption {
	return func(c *storeConfig) { c.queryTimeout = d }
}

// record is satisfied by Entry and ValueEntry.
type record interface {
	created() time.Time
	expires() time.Time
}

// Store is a two-tier cache store: an optional shared Redis backend in
// front of a capacity-bounded in-process map. Shared-store failures are
// logged at debug and absorbed — callers only ever see hit or miss. The
// cached data is disposable, so the local map simply starts empty on
// process restart.
type Store[E record] struct {
	client *redis.Client // nil when the shared store is unavailable
	log    *zap.Logger
	cfg    storeConfig

	mu    sync.Mutex
	local map[string]E

	now func() time.Time
}

// NewListStore returns the store for list-shaped entries (search results,
// discovery lists). client may be nil, in which case only the in-process
// map is used.
func NewListStore(client *redis.Client, log *zap.Logger, opts ...StoreOption) *Store[Entry] {
	return newStore[Entry](client, log, "mc:list", DefaultListCapacity, opts)
}

// NewDetailStore returns the store for single-value detail entries. It is
// independent from the list store: its own prefix, capacity, and map.
func NewDetailStore(client *redis.Client, log *zap.Logger, opts ...StoreOption) *Store[ValueEntry] {
	return newStore[ValueEntry](client, log, "mc:detail", DefaultDetailCapacity, opts)
}

func newStore[E record](client *redis.Client, log *zap.Logger, prefix string, capacity int, opts []StoreOption) *Store[E] {
	cfg := storeConfig{
		prefix:       prefix,
		capacity:     capacity,
		queryTimeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store[E]{
		client: client,
		log:    log,
		cfg:    cfg,
		local:  make(map[string]E),
		now:    time.Now,
	}
}

func (s *Store[E]) key(key string) string {
	return s.cfg.prefix + ":" + key
}

// Get returns the entry for key, consulting the shared store first when
// configured. Any shared-store error falls through to the local map.
// Expired entries are not filtered here beyond what Redis TTLs and the
// local expiry check provide; the service layer owns staleness decisions.
func (s *Store[E]) Get(ctx context.Context, key string) (E, bool) {
	var zero E
	if s.client != nil {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
		data, err := s.client.Get(qctx, s.key(key)).Bytes()
		cancel()
		switch {
		case err == redis.Nil:
			return zero, false
		case err != nil:
			s.log.Debug("shared store get failed, using local fallback",
				zap.String("key", key), zap.Error(err))
		default:
			var e E
			if uerr := msgpack.Unmarshal(data, &e); uerr != nil {
				s.log.Debug("shared store entry undecodable, using local fallback",
					zap.String("key", key), zap.Error(uerr))
			} else {
				return e, true
			}
		}
	}
	return s.getLocal(key)
}

// Set stores the entry under key with a TTL derived from its expiry. An
// already-expired entry is dropped silently.
func (s *Store[E]) Set(ctx context.Context, key string, e E) {
	ttl := e.expires().Sub(s.now())
	if ttl <= 0 {
		return
	}
	if s.client != nil {
		data, err := msgpack.Marshal(e)
		if err != nil {
			s.log.Debug("cache entry not serializable, using local fallback",
				zap.String("key", key), zap.Error(err))
			s.setLocal(key, e)
			return
		}
		qctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
		err = s.client.Set(qctx, s.key(key), data, ttl).Err()
		cancel()
		if err == nil {
			return
		}
		s.log.Debug("shared store set failed, using local fallback",
			zap.String("key", key), zap.Error(err))
	}
	s.setLocal(key, e)
}

func (s *Store[E]) getLocal(key string) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.local[key]
	if !ok {
		var zero E
		return zero, false
	}
	if !s.now().Before(e.expires()) {
		delete(s.local, key)
		var zero E
		return zero, false
	}
	return e, true
}

func (s *Store[E]) setLocal(key string, e E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.local[key]; !exists && len(s.local) >= s.cfg.capacity {
		s.pruneLocked()
		if len(s.local) >= s.cfg.capacity {
			s.evictOldestLocked()
		}
	}
	s.local[key] = e
}

// pruneLocked drops entries past their expiry. Callers hold mu.
func (s *Store[E]) pruneLocked() {
	now := s.now()
	for key, e := range s.local {
		if !now.Before(e.expires()) {
			delete(s.local, key)
		}
	}
}

// evictOldestLocked removes the single entry with the earliest CreatedAt.
// Insertion-time order, not access-time. Callers hold mu.
func (s *Store[E]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range s.local {
		if first || e.created().Before(oldest) {
			oldestKey, oldest, first = key, e.created(), false
		}
	}
	if !first {
		delete(s.local, oldestKey)
	}
}

// localLen reports the fallback map size, for tests and stats.
func (s *Store[E]) localLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local)
}
