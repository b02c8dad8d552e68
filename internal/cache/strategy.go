package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tink-crypto/tink-go/v2/tink"
)

// valuePrefix is the marker prepended to encrypted values to distinguish
// them from plaintext entries during rollout.
const valuePrefix = "tr-enc:"

// storageKeyPrefix is prepended to cache keys when encryption is active,
// providing namespace separation between encrypted and plaintext entries.
const storageKeyPrefix = "enc:"

// EncryptionStrategy defines how cache values are encrypted, decrypted,
// and how storage keys are decorated.
type EncryptionStrategy interface {
	// EncryptValue encrypts a token for storage. The key parameter is used
	// as associated data to bind ciphertext to a specific cache entry.
	EncryptValue(ctx context.Context, token string, key string) (string, error)

	// DecryptValue decrypts a stored value back to the token. The key
	// parameter must match the key used during encryption.
	DecryptValue(ctx context.Context, value string, key string) (string, error)

	// StorageKey returns the cache key, potentially decorated with a prefix.
	StorageKey(key string) string
}

// TinkEncryptionStrategy encrypts cache values using a Tink AEAD primitive.
// Values are encrypted with the cache key as AAD (associated data) to prevent
// ciphertext swapping between keys, then base64-encoded and prefixed with
// "tr-enc:" for identification.
type TinkEncryptionStrategy struct {
	aead tink.AEAD
}

// NewTinkEncryptionStrategy creates an encryption strategy backed by a Tink AEAD.
func NewTinkEncryptionStrategy(aead tink.AEAD) *TinkEncryptionStrategy {
	return &TinkEncryptionStrategy{aead: aead}
}

func (s *TinkEncryptionStrategy) EncryptValue(_ context.Context, token string, key string) (string, error) {
	ciphertext, err := s.aead.Encrypt([]byte(token), []byte(key))
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return valuePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *TinkEncryptionStrategy) DecryptValue(_ context.Context, value string, key string) (string, error) {
	if !strings.HasPrefix(value, valuePrefix) {
		return "", fmt.Errorf("missing %q prefix: value may be unencrypted or corrupted", valuePrefix)
	}

	encoded := strings.TrimPrefix(value, valuePrefix)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}

	plaintext, err := s.aead.Decrypt(decoded, []byte(key))
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}

func (s *TinkEncryptionStrategy) StorageKey(key string) string {
	return storageKeyPrefix + key
}

// Encrypted wraps a Store so that tokens are encrypted at rest.
type Encrypted struct {
	wrapped  Store
	strategy EncryptionStrategy
}

func NewEncrypted(store Store, strategy EncryptionStrategy) *Encrypted {
	return &Encrypted{wrapped: store, strategy: strategy}
}

// Get returns decryption failures as errors, which callers treat as a miss:
// the entry is replaced by the next successful fetch.
func (e *Encrypted) Get(ctx context.Context, key string) (string, bool, error) {
	value, found, err := e.wrapped.Get(ctx, e.strategy.StorageKey(key))
	if err != nil || !found {
		return "", found, err
	}

	token, err := e.strategy.DecryptValue(ctx, value, key)
	if err != nil {
		return "", false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	return token, true, nil
}

func (e *Encrypted) SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	value, err := e.strategy.EncryptValue(ctx, token, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	return e.wrapped.SetWithExpiry(ctx, e.strategy.StorageKey(key), value, ttl)
}

func (e *Encrypted) Ping(ctx context.Context) error {
	return e.wrapped.Ping(ctx)
}

func (e *Encrypted) Close() error {
	return e.wrapped.Close()
}
