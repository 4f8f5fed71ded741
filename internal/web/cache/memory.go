package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory implements an in-process cache with TTL support.
type Memory struct {
	data   sync.Map
	config Config
	cancel context.CancelFunc
}

// item represents an entry stored in the cache
type item struct {
	value      []byte
	expiration time.Time
}

// NewMemory creates an in-process cache with the default configuration.
func NewMemory() *Memory {
	return NewMemoryWithConfig(DefaultConfig())
}

// NewMemoryWithConfig creates an in-process cache with custom configuration.
func NewMemoryWithConfig(config Config) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		config: config,
		cancel: cancel,
	}

	go m.cleanupExpired(ctx)

	return m
}

// Get retrieves a value from the cache
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key

	value, ok := m.data.Load(fullKey)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}

	it := value.(item)
	if !it.expiration.IsZero() && time.Now().After(it.expiration) {
		m.data.Delete(fullKey)
		return nil, ErrCacheMiss{Key: key}
	}

	return it.value, nil
}

// Set stores a value in the cache with a TTL
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	it := item{value: value}
	if ttl > 0 {
		it.expiration = time.Now().Add(ttl)
	}

	m.data.Store(m.config.Prefix+key, it)
	return nil
}

// Delete removes a value from the cache
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.data.Delete(m.config.Prefix + key)
	return nil
}

// DeletePrefix removes every value whose key starts with prefix
func (m *Memory) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPrefix := m.config.Prefix + prefix
	m.data.Range(func(key, value interface{}) bool {
		if strings.HasPrefix(key.(string), fullPrefix) {
			m.data.Delete(key)
		}
		return true
	})
	return nil
}

// Clear removes all values from the cache
func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.data.Range(func(key, value interface{}) bool {
		m.data.Delete(key)
		return true
	})
	return nil
}

// Close stops the background cleanup goroutine
func (m *Memory) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// cleanupExpired periodically removes expired entries.
func (m *Memory) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.data.Range(func(key, value interface{}) bool {
				it := value.(item)
				if !it.expiration.IsZero() && now.After(it.expiration) {
					m.data.Delete(key)
				}
				return true
			})
		}
	}
}
