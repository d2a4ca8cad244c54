package channels

import (
	"sync"
	"time"
)

// defaultMaxTrackedKeys caps the number of tracked rate-limit keys to
// prevent memory exhaustion from attackers rotating source IPs/keys.
const defaultMaxTrackedKeys = 4096

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter bounds the number of tracked rate-limit keys to prevent
// memory exhaustion from rotating source keys (DoS). Safe for concurrent
// use. Window and per-window hit cap are configurable per channel, since
// goclaw's webhook-family adapters (dingtalk/qq/email/signal/nostr/imessage,
// spec §4.2) each face a different abuse profile rather than sharing one
// global rate.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	window  time.Duration
	maxHits int
	maxKeys int
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter allowing up
// to maxHits requests per key within window.
func NewWebhookRateLimiter(window time.Duration, maxHits int) *WebhookRateLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	if maxHits <= 0 {
		maxHits = 30
	}
	return &WebhookRateLimiter{
		entries: make(map[string]*rateLimitEntry),
		window:  window,
		maxHits: maxHits,
		maxKeys: defaultMaxTrackedKeys,
	}
}

// Allow returns true if the key is within rate limits.
// Automatically prunes stale entries and enforces a hard cap on tracked keys.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	// Prune stale entries when approaching the cap
	if len(r.entries) >= r.maxKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= r.maxKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
