package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryConfig configures the in-process limiter: Limit requests per
// Window, enforced as a continuously refilling token bucket so short
// bursts up to Limit are absorbed.
type MemoryConfig struct {
	Limit  int
	Window time.Duration

	// CleanupInterval is how often idle client buckets are dropped.
	// Zero disables cleanup.
	CleanupInterval time.Duration
}

// DefaultMemoryConfig allows 120 requests per minute per client.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Limit:           120,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// Memory is a per-key token bucket limiter.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket

	limit  int
	rate   float64 // tokens per second
	window time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

// NewMemory returns a limiter with the default configuration.
func NewMemory() *Memory {
	return NewMemoryWithConfig(DefaultMemoryConfig())
}

// NewMemoryWithConfig returns a limiter for the given budget. A Limit
// or Window of zero falls back to the default.
func NewMemoryWithConfig(config MemoryConfig) *Memory {
	if config.Limit <= 0 {
		config.Limit = DefaultMemoryConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = DefaultMemoryConfig().Window
	}

	m := &Memory{
		buckets: make(map[string]*tokenBucket),
		limit:   config.Limit,
		rate:    float64(config.Limit) / config.Window.Seconds(),
		window:  config.Window,
		done:    make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go m.cleanupLoop(config.CleanupInterval)
	}
	return m
}

// Allow consumes one token for the key if available.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(m.limit)}
		m.buckets[key] = b
	} else {
		b.tokens = math.Min(float64(m.limit), b.tokens+now.Sub(b.seen).Seconds()*m.rate)
	}
	b.seen = now

	if b.tokens < 1 {
		return Decision{
			Limit:      m.limit,
			RetryAfter: time.Duration((1 - b.tokens) / m.rate * float64(time.Second)),
		}, nil
	}

	b.tokens--
	return Decision{
		Allowed:   true,
		Limit:     m.limit,
		Remaining: int(b.tokens),
	}, nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.dropIdle()
		case <-m.done:
			return
		}
	}
}

// dropIdle removes buckets that have been full for over a window; a
// full bucket carries no state worth keeping.
func (m *Memory) dropIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-2 * m.window)
	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}
