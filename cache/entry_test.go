package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewEntryTimestamps(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	e := NewEntry([]Result{{Title: "Dune"}}, TierTrending, now)

	assert.Equal(t, now, e.CreatedAt)
	assert.Equal(t, now.Add(30*time.Minute), e.StaleAt)
	assert.Equal(t, now.Add(2*time.Hour), e.ExpiresAt)
	assert.False(t, e.CreatedAt.After(e.StaleAt))
	assert.False(t, e.StaleAt.After(e.ExpiresAt))
}

func TestSearchTierHasNoStaleWindow(t *testing.T) {
	assert.Equal(t, TierSearch.Stale, TierSearch.Expire)
}

func TestTierFromEnv(t *testing.T) {
	t.Setenv("METACACHE_TIER_TRENDING_STALE", "45m")
	t.Setenv("METACACHE_TIER_TRENDING_EXPIRE", "3h")
	tier := TierFromEnv(TierTrending)
	assert.Equal(t, 45*time.Minute, tier.Stale)
	assert.Equal(t, 3*time.Hour, tier.Expire)
	assert.Equal(t, "trending", tier.Name)
}

func TestTierFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("METACACHE_TIER_SIMILAR_STALE", "soonish")
	assert.Equal(t, TierSimilar, TierFromEnv(TierSimilar))

	// An override that breaks Stale <= Expire is rejected wholesale.
	t.Setenv("METACACHE_TIER_SIMILAR_STALE", "5h")
	assert.Equal(t, TierSimilar, TierFromEnv(TierSimilar))
}
