package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache    CacheConfig
	Observe  ObserveConfig
	Server   ServerConfig
	Upstream UpstreamConfig
	Vendor   VendorConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation: "valkey" (default), "redis" or
	// "memory".
	Type string `env:"CACHE_TYPE, default=valkey"`

	// URL is the connection URL of the network store. Both the valkey and redis
	// stores accept redis:// and rediss:// URLs.
	URL string `env:"CACHE_URL, default=redis://localhost:6379"`

	// TimeoutMillis bounds every individual cache operation.
	TimeoutMillis int `env:"CACHE_TIMEOUT_MS, default=500"`

	// DefaultTTLSeconds caps the expiry written to the store. Zero disables the
	// cap, so entries live for the remaining lifetime of the token.
	DefaultTTLSeconds int `env:"CACHE_DEFAULT_TTL_SECS, default=0"`

	// LivenessCheckSeconds is how long an established connection is reused
	// before it is pinged again. Failed operations force an earlier check.
	LivenessCheckSeconds int `env:"CACHE_LIVENESS_CHECK_SECS, default=10"`

	// MemoryMaxSize bounds the number of entries held by the memory store.
	MemoryMaxSize int `env:"CACHE_MEMORY_MAX_SIZE, default=10000"`

	// Encryption holds cache encryption settings.
	// Only supported with the network stores.
	Encryption CacheEncryptionConfig
}

// CacheEncryptionConfig holds settings for cache encryption.
type CacheEncryptionConfig struct {
	// Enabled turns on encryption for cached tokens.
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is the path to a cleartext JSON Tink keyset.
	KeysetFile string `env:"CACHE_ENCRYPTION_KEYSET_FILE"`
}

// Timeout is the per-operation deadline applied to cache calls.
func (c CacheConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c CacheConfig) LivenessInterval() time.Duration {
	return time.Duration(c.LivenessCheckSeconds) * time.Second
}

// MaxTTL is the cap applied to store expiry, zero when uncapped.
func (c CacheConfig) MaxTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

type UpstreamConfig struct {
	TimeoutSeconds int `env:"UPSTREAM_TIMEOUT_SECS, default=10"`
}

func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// VendorConfig controls how token requests are served from the cache.
type VendorConfig struct {
	// IgnoredClients lists client ids for which fresh_token is ignored: these
	// clients are always served from the cache when a valid entry exists.
	IgnoredClients []string `env:"FRESH_TOKEN_IGNORED_CLIENTS"`

	// ProviderNamespace prefixes cache keys with the request provider.
	ProviderNamespace bool `env:"CACHE_KEY_PROVIDER_NAMESPACE, default=true"`

	// SingleFlight collapses concurrent upstream fetches for the same key.
	SingleFlight bool `env:"CACHE_SINGLE_FLIGHT, default=true"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=token-relay"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "valkey", "redis":
		if c.URL == "" {
			return fmt.Errorf("CACHE_URL required when CACHE_TYPE=%s", c.Type)
		}
	case "memory":
		if c.Encryption.Enabled {
			return fmt.Errorf("cache encryption requires CACHE_TYPE=valkey or CACHE_TYPE=redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q: must be one of valkey, redis, memory", c.Type)
	}

	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		return fmt.Errorf("CACHE_ENCRYPTION_KEYSET_FILE required when encryption enabled")
	}

	if c.TimeoutMillis <= 0 {
		return fmt.Errorf("CACHE_TIMEOUT_MS must be positive")
	}

	if c.DefaultTTLSeconds < 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL_SECS must not be negative")
	}

	return nil
}
