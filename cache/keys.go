package cache

import "strings"

// DiscoverKey builds the cache key for a discovery list such as
// "discover:trending:movie" or "discover:similar:tv:123". Distinct logical
// queries must map to distinct keys; the optional id distinguishes
// per-title lists like "similar".
func DiscoverKey(category, mediaType string, id ...string) string {
	parts := append([]string{"discover", category, mediaType}, id...)
	return strings.Join(parts, ":")
}

// SearchKey builds the cache key for a search query, normalizing the query
// so that trivially different spellings of the same search share an entry.
func SearchKey(mediaType, query string) string {
	return "search:" + mediaType + ":" + NormalizeQuery(query)
}

// NormalizeQuery lowercases, trims, and collapses inner whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
