package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SendThrottle paces outbound messages per connection with a token bucket.
type SendThrottle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSendThrottle allows perSecond sends per connection with burst headroom.
func NewSendThrottle(perSecond float64, burst int) *SendThrottle {
	if burst < 1 {
		burst = 1
	}
	return &SendThrottle{
		limiters: make(map[string]*throttleEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (t *SendThrottle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.limiters[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Wait blocks until key may send or ctx ends.
func (t *SendThrottle) Wait(ctx context.Context, key string) error {
	return t.limiter(key).Wait(ctx)
}

// Allow reports whether key may send right now, consuming a token if so.
func (t *SendThrottle) Allow(key string) bool {
	return t.limiter(key).Allow()
}

// Prune drops limiters idle for longer than the idle TTL.
func (t *SendThrottle) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, entry := range t.limiters {
		if now.Sub(entry.lastSeen) > t.idleTTL {
			delete(t.limiters, key)
			removed++
		}
	}
	return removed
}

// Run prunes idle limiters until ctx is cancelled.
func (t *SendThrottle) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Prune()
		}
	}
}

// Stats returns limiter statistics
func (t *SendThrottle) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"active_connections": len(t.limiters),
		"rate":               float64(t.rate),
		"burst":              t.burst,
	}
}
