package main

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	localjwt "github.com/tokenrelay/token-relay/internal/jwt"
	"github.com/tokenrelay/token-relay/internal/jwt/jwxtest"
)

func TestAccessToken(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	cfg := Config{
		Audience: "https://api.local.testing",
		ClientID: "test-client",
		Issuer:   "https://local.testing/",
		Scope:    "read:all",
	}

	token, err := accessToken(cfg, now, time.Hour)
	require.NoError(t, err)

	sub, ok := token.Subject()
	require.True(t, ok)
	assert.Equal(t, "test-client@clients", sub)

	exp, ok := token.Expiration()
	require.True(t, ok)
	assert.True(t, now.Add(time.Hour).Equal(exp))

	var scope string
	require.NoError(t, token.Get("scope", &scope))
	assert.Equal(t, "read:all", scope)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), jwxtest.NewJWK(t).Key()))
	require.NoError(t, err)

	// the relay reads the lifetime of minted tokens
	ttl := localjwt.RemainingTTL(string(signed), now)
	assert.Equal(t, int64(3540), ttl)
}
