package jwt

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v4"
)

// ExpiryMargin is subtracted from a token's expiry so that a token is never
// handed out when it would expire while the caller is still using it.
const ExpiryMargin = 60 * time.Second

// Expiry returns the "exp" claim of a bearer token. The signature is not
// verified: tokens reaching this point were issued by the configured
// authorization server, either directly or via the cache it populated.
// Returns false when the token is not a JWT or has no expiry claim.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := &gojwt.RegisteredClaims{}
	_, _, err := gojwt.NewParser().ParseUnverified(token, claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time, true
}

// RemainingTTL is the number of whole seconds for which token may still be
// served, after applying ExpiryMargin. It is negative or zero for tokens that
// must not be served, and zero for tokens that cannot be decoded.
//
// Both the value cached on fetch and the value served on a cache hit are
// computed here, so the two paths cannot disagree.
func RemainingTTL(token string, now time.Time) int64 {
	exp, ok := Expiry(token)
	if !ok {
		return 0
	}

	// floor(((exp - margin) * 1000 - nowMillis) / 1000), in whole seconds so
	// that no intermediate value can overflow
	remaining := clampExpiry(exp.Unix()) - int64(ExpiryMargin/time.Second) - now.Unix()
	if now.Nanosecond() >= int(time.Millisecond) {
		remaining--
	}

	return remaining
}

// maxExpiry is the last second of year 9999.
const maxExpiry = 253402300799

// clampExpiry limits an expiry claim to [0, maxExpiry]: claims outside that
// range are not meaningful and would overflow the TTL arithmetic.
func clampExpiry(exp int64) int64 {
	return min(max(exp, 0), maxExpiry)
}
