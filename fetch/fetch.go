// Package fetch wraps plain net/http calls with retry, exponential backoff
// with jitter, and Retry-After handling for rate-limited upstream APIs.
package fetch

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// DefaultMaxRetries is the number of retries after the initial attempt.
const DefaultMaxRetries = 2

// DefaultBaseDelay is the starting backoff delay.
const DefaultBaseDelay = 500 * time.Millisecond

// DefaultMaxDelay caps the exponential backoff delay (jitter excluded).
const DefaultMaxDelay = 5 * time.Second

// Options configures Do. The zero value uses the package defaults.
type Options struct {
	// MaxRetries is the number of retries after the initial attempt,
	// so MaxRetries+1 attempts total. Negative disables retries.
	MaxRetries int
	// BaseDelay is the backoff delay for the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential portion of the backoff delay.
	MaxDelay time.Duration

	// sleep and jitter are test hooks.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	if o.jitter == nil {
		o.jitter = func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		}
	}
	return o
}

// retryable reports whether the status is worth another attempt:
// 429 (rate limited) or 500-503.
func retryable(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= http.StatusServiceUnavailable
}

// retryAfter parses a Retry-After header value, either integer seconds or an
// HTTP-date. Returns false when the header is absent, unparseable, or in the
// past.
func retryAfter(h string, now time.Time) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(h); err == nil {
		d := at.Sub(now)
		if d <= 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

// backoff returns min(base*2^attempt, max) plus uniform jitter in
// [0, exponential/2).
func backoff(opts Options, attempt int) time.Duration {
	d := opts.BaseDelay << uint(attempt)
	if d > opts.MaxDelay || d <= 0 {
		d = opts.MaxDelay
	}
	return d + opts.jitter(d/2)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do issues req via client, retrying on transient failures. Attempts are
// numbered 0..MaxRetries inclusive. A non-retryable status is returned
// immediately; a retryable status on the last attempt is returned as-is, and
// a network error on the last attempt is propagated. Between attempts it
// sleeps for the Retry-After header (429 with a usable header, used
// verbatim) or for the exponential backoff with jitter.
//
// Requests with a body must have req.GetBody set so the body can be re-armed
// between attempts; http.NewRequest does this for common body types.
func Do(ctx context.Context, client *http.Client, req *http.Request, opts Options) (*http.Response, error) {
	opts = opts.withDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	req = req.WithContext(ctx)

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = client.Do(req)
		last := attempt == opts.MaxRetries

		if err != nil {
			if last {
				return nil, err
			}
			if serr := opts.sleep(ctx, backoff(opts, attempt)); serr != nil {
				return nil, serr
			}
		} else {
			if !retryable(resp.StatusCode) || last {
				return resp, nil
			}
			delay, ok := time.Duration(0), false
			if resp.StatusCode == http.StatusTooManyRequests {
				delay, ok = retryAfter(resp.Header.Get("Retry-After"), time.Now())
			}
			if !ok {
				delay = backoff(opts, attempt)
			}
			// Discard the retryable response before re-issuing.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if serr := opts.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
		}

		if req.Body != nil {
			if req.GetBody == nil {
				// Cannot replay the body; surface whatever we have.
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}
	}
}
