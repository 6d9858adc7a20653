// Package cache is the multi-tier, request-coalescing cache sitting in
// front of the rate-limited upstream metadata providers.
//
// # Stores
//
// [Store] is a two-tier key-value store: an optional shared Redis backend
// in front of a capacity-bounded in-process map. The shared store, when
// configured via [Connect], is the source of truth across replicas; the
// in-process map is a per-process best-effort fallback that takes over
// transparently whenever the shared store errors. Shared-store failures are
// never surfaced to callers — they are logged at debug and absorbed, since
// cached results are disposable and rebuildable from upstream.
//
// Two independent store variants exist: the list store ([NewListStore]) for
// result lists with per-tier freshness windows, and the detail store
// ([NewDetailStore]) for single records with a plain 24h TTL.
//
// # Freshness tiers
//
// Every cached list belongs to a [Tier] fixing its stale and expiry windows
// ([TierSearch], [TierTrending], [TierSimilar]). Between StaleAt and
// ExpiresAt an entry is still served, but a background refresh is started;
// past ExpiresAt the entry must not be served and the next caller blocks on
// a fetch. TierSearch sets Stale == Expire, collapsing the
// serve-while-refreshing window to zero.
//
// # The orchestrator
//
// [Service.GetOrFetch] ties it together: it classifies each lookup as
// fresh, stale, coalesced, or fetch. Concurrent lookups for one key share a
// single in-flight upstream fetch — the fetcher runs exactly once, and all
// waiters get its result or its error. The in-flight registry entry is
// removed when the fetch settles, success or failure, so errors are never
// sticky. Fetches are not cancelled by caller contexts; a result computed
// for a departed caller is still cached for the next one.
package cache
