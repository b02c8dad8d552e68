package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by a Lazy store after Close.
var ErrClosed = errors.New("cache store closed")

// ErrUnavailable is returned by a Lazy store while it is backing off after a
// failed connection attempt.
var ErrUnavailable = errors.New("cache store unavailable")

// DefaultRetryInterval is the minimum time between connection attempts after
// a connection attempt fails.
const DefaultRetryInterval = time.Second

// Connector creates a connected Store.
type Connector func(ctx context.Context) (Store, error)

// Lazy holds a single process-wide store connection. The connection is
// created on first use, and is checked for liveness before reuse when it has
// not been checked for checkInterval, or when an operation on it has failed.
// A dead connection is closed and replaced rather than retried.
//
// Only one caller at a time connects or checks liveness, so concurrent
// requests never create duplicate connections. Callers waiting for that
// caller give up at their own deadline, and a failed attempt is not repeated
// until the retry interval has passed: in the meantime operations fail fast
// with ErrUnavailable.
//
// Every operation is bounded by timeout, including connection attempts by a
// Connector that does not honour its context.
type Lazy struct {
	connect       Connector
	timeout       time.Duration
	checkInterval time.Duration
	retryInterval time.Duration
	now           func() time.Time

	// connecting is a 1-slot lock held while connecting or checking liveness
	connecting chan struct{}

	mu        sync.Mutex
	store     Store
	checkedAt time.Time
	suspect   bool
	closed    bool
	failedAt  time.Time
	failure   error
}

// NewLazy creates a Lazy store. No connection is made until first use.
func NewLazy(connect Connector, timeout, checkInterval time.Duration) *Lazy {
	return &Lazy{
		connect:       connect,
		timeout:       timeout,
		checkInterval: checkInterval,
		retryInterval: DefaultRetryInterval,
		now:           time.Now,
		connecting:    make(chan struct{}, 1),
	}
}

// ready returns the current store when it can be used without a liveness
// check, or an error when the caller must not attempt to connect.
func (l *Lazy) ready() (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	now := l.now()

	if l.store != nil {
		if !l.suspect && now.Sub(l.checkedAt) < l.checkInterval {
			return l.store, nil
		}
		return nil, nil
	}

	if l.failure != nil && now.Sub(l.failedAt) < l.retryInterval {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, l.failure)
	}

	return nil, nil
}

func (l *Lazy) acquire(ctx context.Context) (Store, error) {
	store, err := l.ready()
	if store != nil || err != nil {
		return store, err
	}

	select {
	case l.connecting <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for connection: %w", ErrUnavailable, ctx.Err())
	}
	defer func() { <-l.connecting }()

	// another caller may have connected or failed while this one waited
	store, err = l.ready()
	if store != nil || err != nil {
		return store, err
	}

	l.mu.Lock()
	current := l.store
	l.mu.Unlock()

	if current != nil {
		err := current.Ping(ctx)
		if err == nil {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.store == current {
				l.checkedAt = l.now()
				l.suspect = false
			}
			return current, nil
		}

		log.Ctx(ctx).Warn().Err(err).Msg("cache connection lost, creating new connection")
		if err := current.Close(); err != nil {
			log.Ctx(ctx).Debug().Err(err).Msg("closing failed cache connection")
		}

		l.mu.Lock()
		if l.store == current {
			l.store = nil
		}
		l.mu.Unlock()
	} else {
		log.Ctx(ctx).Info().Msg("creating new cache connection")
	}

	store, err = l.dial(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.failedAt = l.now()
		l.failure = err
		return nil, fmt.Errorf("cache connection failed: %w", err)
	}

	if l.closed {
		_ = store.Close()
		return nil, ErrClosed
	}

	l.store = store
	l.checkedAt = l.now()
	l.suspect = false
	l.failure = nil

	return store, nil
}

// dial runs the connector, returning when ctx is done even if the connector
// does not. A connection that completes after that is closed.
func (l *Lazy) dial(ctx context.Context) (Store, error) {
	type dialResult struct {
		store Store
		err   error
	}

	done := make(chan dialResult, 1)
	go func() {
		store, err := l.connect(ctx)
		done <- dialResult{store: store, err: err}
	}()

	select {
	case r := <-done:
		return r.store, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.store != nil {
				_ = r.store.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// markSuspect flags store for a liveness check on next acquisition, unless it
// has already been replaced.
func (l *Lazy) markSuspect(store Store) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == store {
		l.suspect = true
	}
}

func (l *Lazy) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	store, err := l.acquire(ctx)
	if err != nil {
		return "", false, err
	}

	token, found, err := store.Get(ctx, key)
	if err != nil {
		l.markSuspect(store)
	}

	return token, found, err
}

func (l *Lazy) SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	store, err := l.acquire(ctx)
	if err != nil {
		return err
	}

	err = store.SetWithExpiry(ctx, key, token, ttl)
	if err != nil {
		l.markSuspect(store)
	}

	return err
}

// Ping forces a liveness check, replacing the connection if it is dead.
func (l *Lazy) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.mu.Lock()
	l.suspect = true
	l.mu.Unlock()

	_, err := l.acquire(ctx)
	return err
}

// Close closes the current connection. Subsequent operations fail with
// ErrClosed.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.store == nil {
		return nil
	}

	err := l.store.Close()
	l.store = nil
	return err
}
