// Package jwxtest mints signed access tokens for tests using lestrrat-go/jwx.
// This package has no dependency on internal/jwt to avoid import cycles.
package jwxtest

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/require"
)

// DefaultIssuer is the issuer set on tokens minted by AccessToken.
const DefaultIssuer = "https://tenant.example.com/"

// JWK wraps an RSA key pair used to sign test tokens.
// Use NewJWK to create an instance.
type JWK struct {
	key jwk.Key
}

// NewJWK generates an RSA 2048-bit signing key.
func NewJWK(t *testing.T) JWK {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	key, err := jwk.Import(privateKey)
	require.NoError(t, err, "failed to import private key as JWK")

	err = key.Set(jwk.KeyIDKey, "test-kid")
	require.NoError(t, err, "failed to set KeyID")

	err = key.Set(jwk.AlgorithmKey, jwa.RS256())
	require.NoError(t, err, "failed to set Algorithm")

	return JWK{key: key}
}

// Key returns the jwk.Key suitable for use with lestrrat-go/jwx.
func (j JWK) Key() jwk.Key {
	return j.key
}

// SignToken signs a JWT token with the provided key and sets the issuer.
// The token should be configured with all desired claims before calling this function.
func SignToken(t *testing.T, j JWK, issuer string, token jwt.Token) string {
	t.Helper()

	err := token.Set(jwt.IssuerKey, issuer)
	require.NoError(t, err, "failed to set issuer")

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), j.key))
	require.NoError(t, err, "failed to sign JWT")

	return string(signed)
}

// AccessToken mints a client-credentials style access token that expires at
// exp. The expiry is truncated to whole seconds, as it is on the wire.
func AccessToken(t *testing.T, j JWK, exp time.Time) string {
	t.Helper()

	token, err := jwt.NewBuilder().
		Subject("client-1@clients").
		Audience([]string{"https://api.example.com"}).
		IssuedAt(time.Now().Add(-1 * time.Minute)).
		Expiration(exp).
		Build()
	require.NoError(t, err, "failed to build JWT")

	return SignToken(t, j, DefaultIssuer, token)
}

// ExpiringIn is a convenience for AccessToken with an expiry relative to now.
func ExpiringIn(t *testing.T, j JWK, d time.Duration) string {
	t.Helper()
	return AccessToken(t, j, time.Now().Add(d))
}
