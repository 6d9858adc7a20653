package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedSleeps replaces the real sleep so tests assert delays without
// waiting for them.
func recordedSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func noJitter(time.Duration) time.Duration { return 0 }

func TestDoSuccessFirstAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := Do(context.Background(), srv.Client(), req, Options{})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDoNonRetryableReturnedImmediately(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var delays []time.Duration
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := Do(context.Background(), srv.Client(), req, Options{sleep: recordedSleeps(&delays)})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, delays)
}

func TestDoHonorsRetryAfterSeconds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var delays []time.Duration
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := Do(context.Background(), srv.Client(), req, Options{sleep: recordedSleeps(&delays), jitter: noJitter})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
	require.Len(t, delays, 1)
	assert.Equal(t, 2*time.Second, delays[0])
}

func TestDoBackoffWithoutRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var delays []time.Duration
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := Do(context.Background(), srv.Client(), req, Options{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   250 * time.Millisecond,
		sleep:      recordedSleeps(&delays),
		jitter:     noJitter,
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	// Last attempt's response is returned even though it is retryable.
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(4), attempts.Load())
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond, // capped at MaxDelay
	}, delays)
}

func TestDoNetworkErrorPropagatesOnLastAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	var delays []time.Duration
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := Do(context.Background(), http.DefaultClient, req, Options{MaxRetries: 2, sleep: recordedSleeps(&delays), jitter: noJitter})
	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Len(t, delays, 2)
}

func TestDoSleepCancelledByContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := Do(ctx, srv.Client(), req, Options{BaseDelay: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, resp)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	d, ok := retryAfter("2", now)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	d, ok = retryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	// Past date, negative seconds, garbage, and absent all fall back.
	for _, h := range []string{now.Add(-time.Minute).Format(http.TimeFormat), "-5", "soon", ""} {
		_, ok = retryAfter(h, now)
		assert.False(t, ok, "header %q", h)
	}
}

func TestBackoffBounds(t *testing.T) {
	opts := Options{BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, jitter: noJitter}.withDefaults()
	opts.jitter = noJitter

	assert.Equal(t, 500*time.Millisecond, backoff(opts, 0))
	assert.Equal(t, time.Second, backoff(opts, 1))
	assert.Equal(t, 4*time.Second, backoff(opts, 3))
	assert.Equal(t, 5*time.Second, backoff(opts, 4))
	assert.Equal(t, 5*time.Second, backoff(opts, 40)) // shift overflow guarded

	// Jitter stays within half the exponential delay.
	opts = Options{BaseDelay: time.Second, MaxDelay: time.Second}.withDefaults()
	for iter := 0; iter < 50; iter++ {
		d := backoff(opts, 0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestRetryable(t *testing.T) {
	for _, status := range []int{429, 500, 501, 502, 503} {
		assert.True(t, retryable(status), "status %d", status)
	}
	for _, status := range []int{200, 204, 301, 400, 401, 404, 418, 504} {
		assert.False(t, retryable(status), "status %d", status)
	}
}
