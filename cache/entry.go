package cache

import (
	"os"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Result is one normalized record returned by an upstream metadata provider.
// Meta carries whatever provider-specific fields the caller wants to keep;
// the cache never inspects it.
type Result struct {
	ExternalID  string         `msgpack:"id" json:"externalId"`
	Title       string         `msgpack:"t" json:"title"`
	CoverURL    string         `msgpack:"c" json:"coverUrl"`
	ReleaseYear int            `msgpack:"y" json:"releaseYear"`
	Meta        map[string]any `msgpack:"m" json:"meta,omitempty"`
}

// Entry is a cached list of results plus its freshness timestamps.
// CreatedAt <= StaleAt <= ExpiresAt. Entries are immutable once stored; a
// refresh replaces the entry under the same key.
type Entry struct {
	Results   []Result  `msgpack:"r"`
	CreatedAt time.Time `msgpack:"ca"`
	StaleAt   time.Time `msgpack:"sa"`
	ExpiresAt time.Time `msgpack:"ea"`
}

func (e Entry) created() time.Time { return e.CreatedAt }
func (e Entry) expires() time.Time { return e.ExpiresAt }

// ValueEntry is a cached single result for the detail cache. Detail entries
// have a plain TTL with no stale window.
type ValueEntry struct {
	Value     Result    `msgpack:"v"`
	CreatedAt time.Time `msgpack:"ca"`
	ExpiresAt time.Time `msgpack:"ea"`
}

func (e ValueEntry) created() time.Time { return e.CreatedAt }
func (e ValueEntry) expires() time.Time { return e.ExpiresAt }

// Tier maps a class of cached queries to its freshness windows. Between
// Stale and Expire an entry is served while a background refresh runs;
// Stale == Expire collapses that window so expiry always forces a blocking
// refetch.
type Tier struct {
	Name   string
	Stale  time.Duration
	Expire time.Duration
}

// The built-in tiers. Search results churn with the query so they get no
// stale window at all; trending and similar lists tolerate old data longer.
var (
	TierSearch   = Tier{Name: "search", Stale: 5 * time.Minute, Expire: 5 * time.Minute}
	TierTrending = Tier{Name: "trending", Stale: 30 * time.Minute, Expire: 2 * time.Hour}
	TierSimilar  = Tier{Name: "similar", Stale: 30 * time.Minute, Expire: 4 * time.Hour}
)

// TierFromEnv returns def with its windows overridden by the environment
// variables METACACHE_TIER_<NAME>_STALE and METACACHE_TIER_<NAME>_EXPIRE
// when set and parseable (go-style durations, e.g. "45m", "1h30m").
// Overrides that would violate Stale <= Expire are ignored.
func TierFromEnv(def Tier) Tier {
	t := def
	prefix := "METACACHE_TIER_" + strings.ToUpper(t.Name)
	if v := os.Getenv(prefix + "_STALE"); v != "" {
		if d, err := str2duration.ParseDuration(v); err == nil && d > 0 {
			t.Stale = d
		}
	}
	if v := os.Getenv(prefix + "_EXPIRE"); v != "" {
		if d, err := str2duration.ParseDuration(v); err == nil && d > 0 {
			t.Expire = d
		}
	}
	if t.Stale > t.Expire {
		return def
	}
	return t
}

// NewEntry stamps results with tier-derived timestamps anchored at now.
func NewEntry(results []Result, tier Tier, now time.Time) Entry {
	return Entry{
		Results:   results,
		CreatedAt: now,
		StaleAt:   now.Add(tier.Stale),
		ExpiresAt: now.Add(tier.Expire),
	}
}

// NewValueEntry stamps a single result with a plain TTL anchored at now.
func NewValueEntry(value Result, ttl time.Duration, now time.Time) ValueEntry {
	return ValueEntry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
