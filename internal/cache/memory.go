package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
)

type memoryEntry struct {
	token string
	ttl   time.Duration
}

// Memory is an in-process Store backed by otter, with per-entry expiry. It is
// suitable for single instance deployments and tests.
type Memory struct {
	cache *otter.Cache[string, memoryEntry]
}

// NewMemory creates a new in-memory store holding at most maxSize entries.
func NewMemory(maxSize int) (*Memory, error) {
	cache, err := otter.New(&otter.Options[string, memoryEntry]{
		MaximumSize: maxSize,
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, memoryEntry]) time.Duration {
			return e.Value.ttl
		}),
	})
	if err != nil {
		return nil, err
	}

	return &Memory{cache: cache}, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	entry, ok := m.cache.GetIfPresent(key)
	if !ok {
		return "", false, nil
	}

	return entry.token, true, nil
}

func (m *Memory) SetWithExpiry(_ context.Context, key string, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.cache.Set(key, memoryEntry{token: token, ttl: ttl})
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	m.cache.InvalidateAll()
	return nil
}
