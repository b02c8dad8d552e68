package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Distributed implements Store using Valkey with server-assisted client-side
// caching.
type Distributed struct {
	client        valkey.Client
	clientSideTTL time.Duration
}

// NewDistributed creates a Valkey-backed store. clientSideTTL bounds how long
// a value may be served from the client-side cache; the server invalidates
// client-side entries when a key is overwritten.
func NewDistributed(valkeyClient valkey.Client, clientSideTTL time.Duration) *Distributed {
	return &Distributed{
		client:        valkeyClient,
		clientSideTTL: clientSideTTL,
	}
}

// DialDistributed connects to the Valkey (or Redis) server at url, for
// example "redis://localhost:6379/0". The connection is established eagerly,
// so an unreachable server is reported here. timeout bounds dialing and
// writes on the connection; zero keeps the client defaults.
func DialDistributed(url string, clientSideTTL time.Duration, timeout time.Duration) (*Distributed, error) {
	opts, err := valkey.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid valkey URL: %w", err)
	}

	if timeout > 0 {
		opts.Dialer.Timeout = timeout
		opts.ConnWriteTimeout = timeout
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return NewDistributed(client, clientSideTTL), nil
}

// Get retrieves a token from the cache using server-assisted client-side caching.
func (d *Distributed) Get(ctx context.Context, key string) (string, bool, error) {
	cmd := d.client.B().Get().Key(key).Cache()
	result := d.client.DoCache(ctx, cmd, d.clientSideTTL)

	if err := result.Error(); err != nil {
		// Key not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get cached value: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return "", false, fmt.Errorf("failed to convert cached value to string: %w", err)
	}

	return val, true, nil
}

// SetWithExpiry stores a token with a server-side expiry in whole seconds.
// Expiries under one second are not written.
func (d *Distributed) SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error {
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		return nil
	}

	cmd := d.client.B().Set().Key(key).Value(token).ExSeconds(secs).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

func (d *Distributed) Ping(ctx context.Context) error {
	if err := d.client.Do(ctx, d.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("valkey ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying connections.
func (d *Distributed) Close() error {
	d.client.Close()
	return nil
}
