// Package ratelimit implements a continuously refilling token bucket used to
// bound the outbound request rate against each upstream metadata provider.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Bucket is a token bucket with continuous refill: capacity accrues at
// refillPerSecond up to maxTokens, and each Acquire consumes one token.
// A Bucket is shared by every fetcher for its provider.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	maxTokens  float64
	refillRate float64 // tokens per second
	provider   string
	waiting    int

	now func() time.Time
}

// Stats is a point-in-time snapshot of a Bucket.
type Stats struct {
	Available float64
	Waiting   int
	MaxTokens float64
	Provider  string
}

// New returns a full Bucket for the given provider.
func New(maxTokens, refillPerSecond float64, provider string) *Bucket {
	return &Bucket{
		tokens:     maxTokens,
		lastRefill: time.Now(),
		maxTokens:  maxTokens,
		refillRate: refillPerSecond,
		provider:   provider,
		now:        time.Now,
	}
}

// refillLocked credits tokens for the elapsed time. Callers hold mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

// Acquire blocks until a token is consumed or ctx is done. When a token is
// available it returns without sleeping. Otherwise it sleeps long enough for
// the deficit to refill and rechecks; wake order among concurrent waiters is
// not FIFO — whichever waiter rechecks first wins a freshly refilled token
// and the rest sleep again. Eventually fair, not strictly fair.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(math.Ceil(deficit/b.refillRate*1000)) * time.Millisecond
		b.waiting++
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.mu.Lock()
			b.waiting--
			b.mu.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
		b.mu.Lock()
		b.waiting--
		b.mu.Unlock()
	}
}

// Stats refills and returns a snapshot of the bucket.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return Stats{
		Available: b.tokens,
		Waiting:   b.waiting,
		MaxTokens: b.maxTokens,
		Provider:  b.provider,
	}
}
