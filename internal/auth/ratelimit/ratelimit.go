// Package ratelimit holds the gateway's in-memory token-bucket limiter.
// Buckets are keyed by API key ID so a producer's limit follows the key,
// not the client address.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter refills each key's bucket continuously at limit/window tokens per
// second. State lives in process memory, so limits apply per gateway
// instance.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	stop    chan struct{}
}

// New creates a limiter whose buckets refill over the given window. Call
// Close to stop the background sweep.
func New(window time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow consumes one token from the key's bucket if any remain. A key's
// first request always succeeds and seeds the bucket at limit-1.
func (l *Limiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(limit - 1), lastSeen: now}
		return true
	}

	elapsed := now.Sub(b.lastSeen)
	b.lastSeen = now

	b.tokens += elapsed.Seconds() * float64(limit) / l.window.Seconds()
	if b.tokens > float64(limit) {
		b.tokens = float64(limit)
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Reset forgets one key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	close(l.stop)
}

// sweep drops buckets idle for two windows so revoked keys do not pin
// memory.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * l.window)
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
