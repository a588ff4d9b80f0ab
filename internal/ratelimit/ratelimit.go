// Package ratelimit provides per-actor request rate limiting.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow reports whether the request should be admitted.
	Allow(ctx context.Context, key string) (bool, error)
	// Close releases any background resources.
	Close()
}

// Noop admits every request. Used when rate limiting is disabled.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }
func (Noop) Close()                                      {}

// Memory is an in-process token bucket limiter keyed by actor.
// Buckets refill at rps tokens per second up to burst capacity. Idle
// buckets are evicted by a background sweeper.
type Memory struct {
	rps   float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewMemory creates a memory limiter allowing rps requests per second
// with the given burst size.
func NewMemory(rps, burst int) *Memory {
	if burst < 1 {
		burst = 1
	}
	m := &Memory{
		rps:     float64(rps),
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token from the key's bucket if available.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: m.burst}
		m.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		b.tokens = min(m.burst, b.tokens+elapsed*m.rps)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the background sweeper.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			m.mu.Lock()
			for key, b := range m.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
