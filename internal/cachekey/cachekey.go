// Package cachekey derives cache keys from the identity of a credential
// request.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tokenrelay/token-relay/internal/credential"
)

// identity is the subset of a request that determines which token is issued.
// Field order is fixed by the struct, which keeps the serialized form (and
// the digest) stable across releases. Volatile and transport fields
// (fresh_token, grant_type, auth0_url, content_type) are deliberately absent.
type identity struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Derive returns the cache key for req. The key is
// "{provider}-{clientId}-{digest}" when namespaced, otherwise
// "{clientId}-{digest}". The client id is kept in plain text so that keys can
// be attributed when inspecting the store; the secret only ever contributes
// to the SHA-256 digest.
func Derive(req credential.Request, namespaced bool) string {
	id := identity{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	}
	switch req.Grant.Kind() {
	case credential.GrantAudience:
		id.Audience = req.Grant.Value()
	case credential.GrantScope:
		id.Scope = req.Grant.Value()
	}

	// marshalling a struct of strings cannot fail
	data, _ := json.Marshal(id)
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	key := req.ClientID + "-" + digest
	if namespaced {
		key = req.Provider + "-" + key
	}

	return key
}
