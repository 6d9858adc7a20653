// Package provider implements the upstream metadata fetchers (movie/TV,
// book, game, podcast databases) behind a closed media-type dispatch. Each
// provider owns a shared token bucket sized for its documented rate limits
// and issues requests through the resilient fetch layer.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mediatrack/metacache/cache"
	"github.com/mediatrack/metacache/fetch"
	"github.com/mediatrack/metacache/ratelimit"
)

// ErrUnknownMediaType is returned when no provider serves a media type.
var ErrUnknownMediaType = errors.New("unknown media type")

// MediaType identifies what kind of title is being searched.
type MediaType int

const (
	Movie MediaType = iota
	TV
	Book
	Game
	Podcast
)

func (m MediaType) String() string {
	switch m {
	case Movie:
		return "movie"
	case TV:
		return "tv"
	case Book:
		return "book"
	case Game:
		return "game"
	case Podcast:
		return "podcast"
	default:
		return "unknown"
	}
}

// ParseMediaType maps the wire names used in cache keys and routes back to
// a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie":
		return Movie, nil
	case "tv":
		return TV, nil
	case "book":
		return Book, nil
	case "game":
		return Game, nil
	case "podcast":
		return Podcast, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMediaType, s)
	}
}

// Searcher is the one capability the cache core needs from a provider.
type Searcher interface {
	// Search returns normalized results for a query.
	Search(ctx context.Context, query string) ([]cache.Result, error)
	// Label names the provider for rate limiting and metrics.
	Label() string
}

// Upstream configures one provider's endpoint.
type Upstream struct {
	BaseURL string
	APIKey  string
}

// Config configures the Registry. HTTPClient and Fetch apply to every
// provider; zero values use the defaults.
type Config struct {
	Movie   Upstream
	Book    Upstream
	Game    Upstream
	Podcast Upstream

	HTTPClient *http.Client
	Fetch      fetch.Options
}

// Registry holds the per-provider singletons. Built once at startup;
// dispatch is a closed switch, not open registration.
type Registry struct {
	movie   *movieDB
	book    *openBooks
	game    *gamesDB
	podcast *podcastIndex
}

// NewRegistry constructs every provider with its documented burst/rate
// limits: moviedb 40 burst at 4/s, openbooks 4 at 4/s, gamesdb and
// podcastidx 5 at 5/s.
func NewRegistry(cfg Config, log *zap.Logger) *Registry {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		movie: &movieDB{upstream: upstream{
			cfg:     cfg.Movie,
			client:  cfg.HTTPClient,
			opts:    cfg.Fetch,
			limiter: ratelimit.New(40, 4, "moviedb"),
			log:     log,
		}},
		book: &openBooks{upstream: upstream{
			cfg:     cfg.Book,
			client:  cfg.HTTPClient,
			opts:    cfg.Fetch,
			limiter: ratelimit.New(4, 4, "openbooks"),
			log:     log,
		}},
		game: &gamesDB{upstream: upstream{
			cfg:     cfg.Game,
			client:  cfg.HTTPClient,
			opts:    cfg.Fetch,
			limiter: ratelimit.New(5, 5, "gamesdb"),
			log:     log,
		}},
		podcast: &podcastIndex{upstream: upstream{
			cfg:     cfg.Podcast,
			client:  cfg.HTTPClient,
			opts:    cfg.Fetch,
			limiter: ratelimit.New(5, 5, "podcastidx"),
			log:     log,
		}},
	}
}

// ForMediaType selects the provider serving mt. Movie and TV share the
// movie/TV metadata database.
func (r *Registry) ForMediaType(mt MediaType) (Searcher, error) {
	switch mt {
	case Movie, TV:
		return r.movie, nil
	case Book:
		return r.book, nil
	case Game:
		return r.game, nil
	case Podcast:
		return r.podcast, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMediaType, mt)
	}
}

// Labels lists every provider label, in dispatch order. Used by the
// metrics reader and the stats CLI.
func Labels() []string {
	return []string{"moviedb", "openbooks", "gamesdb", "podcastidx"}
}

// LimiterStats snapshots every provider's token bucket.
func (r *Registry) LimiterStats() []ratelimit.Stats {
	return []ratelimit.Stats{
		r.movie.limiter.Stats(),
		r.book.limiter.Stats(),
		r.game.limiter.Stats(),
		r.podcast.limiter.Stats(),
	}
}

// upstream is the shared plumbing: acquire a token, fetch with retries,
// decode the JSON body.
type upstream struct {
	cfg     Upstream
	client  *http.Client
	opts    fetch.Options
	limiter *ratelimit.Bucket
	log     *zap.Logger
}

func (u *upstream) getJSON(ctx context.Context, label, rawURL string, out any) error {
	if err := u.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", label, err)
	}
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", label, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := fetch.Do(ctx, u.client, req, u.opts)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: unexpected status %s", label, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", label, err)
	}
	return nil
}

// yearOf extracts the year from a provider date like "2019-05-17".
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func queryValues(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			v.Set(pairs[i], pairs[i+1])
		}
	}
	return v
}
