package cache

import (
	"context"
	"sync"
	"time"
)

// mockStore is a Store used to observe the behaviour of wrappers.
type mockStore struct {
	mu sync.Mutex

	values map[string]string
	ttls   map[string]time.Duration

	getError  error
	setError  error
	pingError error
	closeErr  error

	getCalls   int
	setCalls   int
	pingCalls  int
	closeCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		values: map[string]string{},
		ttls:   map[string]time.Duration{},
	}
}

func (m *mockStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getError != nil {
		return "", false, m.getError
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockStore) SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setError != nil {
		return m.setError
	}
	m.values[key] = token
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCalls++
	return m.pingError
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.closeErr
}
