package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tokenrelay/token-relay/internal/cache/encryption"
	"github.com/tokenrelay/token-relay/internal/config"
)

// clientSideTTL bounds how long the valkey client serves a value from its
// local cache. Overwrites are pushed by the server, so this only limits the
// impact of a missed invalidation.
const clientSideTTL = 30 * time.Second

// NewFromConfig creates the Store described by cacheConfig.
//
// Network stores are wrapped in a Lazy connection: nothing is dialled here,
// and an unreachable server only surfaces as errors from store operations.
// Encryption, when enabled, is initialized eagerly so that a misconfigured
// keyset fails startup.
func NewFromConfig(cacheConfig config.CacheConfig) (Store, error) {
	var strategy EncryptionStrategy
	if cacheConfig.Encryption.Enabled {
		aead, err := encryption.NewAEADFromFile(cacheConfig.Encryption.KeysetFile)
		if err != nil {
			return nil, fmt.Errorf("initializing encryption: %w", err)
		}
		strategy = NewTinkEncryptionStrategy(aead)

		log.Info().Msg("cache encryption enabled")
	}

	var connect Connector

	switch cacheConfig.Type {
	case "valkey":
		log.Info().
			Str("cache_type", "valkey").
			Msg("initializing distributed cache")

		connect = func(context.Context) (Store, error) {
			return DialDistributed(cacheConfig.URL, clientSideTTL, cacheConfig.Timeout())
		}

	case "redis":
		log.Info().
			Str("cache_type", "redis").
			Msg("initializing distributed cache")

		connect = func(context.Context) (Store, error) {
			return DialRedis(cacheConfig.URL, cacheConfig.Timeout())
		}

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Msg("initializing in-memory cache")

		memory, err := NewMemory(cacheConfig.MemoryMaxSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be one of \"valkey\", \"redis\" or \"memory\"", cacheConfig.Type)
	}

	if strategy != nil {
		dial := connect
		connect = func(ctx context.Context) (Store, error) {
			store, err := dial(ctx)
			if err != nil {
				return nil, err
			}
			return NewEncrypted(store, strategy), nil
		}
	}

	lazy := NewLazy(connect, cacheConfig.Timeout(), cacheConfig.LivenessInterval())

	return NewInstrumented(lazy, cacheConfig.Type), nil
}
