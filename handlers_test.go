package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenrelay/token-relay/internal/cache"
	"github.com/tokenrelay/token-relay/internal/cachekey"
	"github.com/tokenrelay/token-relay/internal/config"
	"github.com/tokenrelay/token-relay/internal/credential"
	"github.com/tokenrelay/token-relay/internal/jwt/jwxtest"
	"github.com/tokenrelay/token-relay/internal/testhelpers"
	"github.com/tokenrelay/token-relay/internal/upstream"
	"github.com/tokenrelay/token-relay/internal/vendor"
)

type relay struct {
	handler http.Handler
	store   cache.Store
	auth    *testhelpers.MockAuthorizationServer
	key     jwxtest.JWK
}

func setupRelay(t *testing.T, ignoredClients ...string) *relay {
	t.Helper()
	testhelpers.SetupLogger(t)

	store, err := cache.NewMemory(100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5},
		Vendor: config.VendorConfig{
			IgnoredClients:    ignoredClients,
			ProviderNamespace: true,
			SingleFlight:      true,
		},
	}

	auth := testhelpers.SetupMockAuthorizationServer(t)

	return &relay{
		handler: configureServerRoutes(cfg, store, auth.Server.Client()),
		store:   store,
		auth:    auth,
		key:     jwxtest.NewJWK(t),
	}
}

func (r *relay) payload(extra map[string]any) string {
	body := map[string]any{
		"client_id":     "client-1",
		"client_secret": "s3cret",
		"grant_type":    "client_credentials",
		"audience":      "https://api.example.com",
		"auth0_url":     r.auth.TokenURL(),
	}
	for k, v := range extra {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func (r *relay) post(t *testing.T, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	r.handler.ServeHTTP(rr, req)
	return rr
}

func (r *relay) cacheKey() string {
	return cachekey.Derive(credential.Request{
		ClientID:     "client-1",
		ClientSecret: "s3cret",
		Grant:        credential.Audience("https://api.example.com"),
		Provider:     credential.DefaultProvider,
	}, true)
}

func decodeToken(t *testing.T, rr *httptest.ResponseRecorder) vendor.Token {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var token vendor.Token
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &token))
	return token
}

func TestPostToken_EmptyBody(t *testing.T) {
	r := setupRelay(t)

	rr := r.post(t, "application/json", "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Empty body")
	assert.Equal(t, 0, r.auth.RequestCount())
}

func TestPostToken_ValidationFailure(t *testing.T) {
	r := setupRelay(t)

	rr := r.post(t, "application/json", r.payload(map[string]any{"scope": "read:all"}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Payload validation error: ")
	assert.Equal(t, 0, r.auth.RequestCount())
}

func TestPostToken_MissFetchesAndCaches(t *testing.T) {
	r := setupRelay(t)
	token := jwxtest.ExpiringIn(t, r.key, 2*time.Hour)
	r.auth.SetToken(token, 7200)

	vended := decodeToken(t, r.post(t, "application/json", r.payload(nil)))

	assert.Equal(t, token, vended.AccessToken)
	assert.InDelta(t, 7140, vended.ExpiresIn, 2)
	assert.Equal(t, 1, r.auth.RequestCount())
	assert.Equal(t, "client_credentials", r.auth.LastGrant().Get("grant_type"))
	assert.Equal(t, "https://api.example.com", r.auth.LastGrant().Get("audience"))

	cached, found, err := r.store.Get(context.Background(), r.cacheKey())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, token, cached)
}

func TestPostToken_HitSkipsUpstream(t *testing.T) {
	r := setupRelay(t)
	token := jwxtest.ExpiringIn(t, r.key, 560*time.Second)
	require.NoError(t, r.store.SetWithExpiry(context.Background(), r.cacheKey(), token, time.Hour))

	vended := decodeToken(t, r.post(t, "application/json", r.payload(nil)))

	assert.Equal(t, token, vended.AccessToken)
	assert.InDelta(t, 500, vended.ExpiresIn, 2)
	assert.Equal(t, 0, r.auth.RequestCount())
}

func TestPostToken_UpstreamRejection(t *testing.T) {
	r := setupRelay(t)
	r.auth.Fail(http.StatusUnauthorized, `{"error":"invalid_client"}`)

	rr := r.post(t, "application/json", r.payload(nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, `{"error":"invalid_client"}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	_, found, err := r.store.Get(context.Background(), r.cacheKey())
	require.NoError(t, err)
	assert.False(t, found, "failures are not cached")
}

func TestPostToken_ForceRefresh(t *testing.T) {
	r := setupRelay(t)
	first := jwxtest.ExpiringIn(t, r.key, time.Hour)
	second := jwxtest.ExpiringIn(t, r.key, 2*time.Hour)

	r.auth.SetToken(first, 3600)
	decodeToken(t, r.post(t, "application/json", r.payload(nil)))

	r.auth.SetToken(second, 7200)
	vended := decodeToken(t, r.post(t, "application/json", r.payload(map[string]any{"fresh_token": true})))

	assert.Equal(t, second, vended.AccessToken)
	assert.Equal(t, 2, r.auth.RequestCount())
}

func TestPostToken_ForceRefreshIgnoredClient(t *testing.T) {
	r := setupRelay(t, "client-1")
	first := jwxtest.ExpiringIn(t, r.key, time.Hour)

	r.auth.SetToken(first, 3600)
	decodeToken(t, r.post(t, "application/json", r.payload(nil)))

	r.auth.SetToken("unused", 3600)
	vended := decodeToken(t, r.post(t, "application/json", r.payload(map[string]any{"fresh_token": "true"})))

	assert.Equal(t, first, vended.AccessToken)
	assert.Equal(t, 1, r.auth.RequestCount())
}

func TestPostToken_FormBodyAndFormGrant(t *testing.T) {
	r := setupRelay(t)
	token := jwxtest.ExpiringIn(t, r.key, time.Hour)
	r.auth.SetToken(token, 3600)

	form := url.Values{}
	form.Set("client_id", "client-1")
	form.Set("client_secret", "s3cret")
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "read:all")
	form.Set("auth0_url", r.auth.TokenURL())
	form.Set("content_type", "form")

	vended := decodeToken(t, r.post(t, "application/x-www-form-urlencoded", form.Encode()))

	assert.Equal(t, token, vended.AccessToken)
	assert.Equal(t, "read:all", r.auth.LastGrant().Get("scope"))
	assert.Equal(t, "s3cret", r.auth.LastGrant().Get("client_secret"))
}

func TestPostToken_ContentTypeHeader(t *testing.T) {
	r := setupRelay(t)
	r.auth.SetToken(jwxtest.ExpiringIn(t, r.key, time.Hour), 3600)

	form := url.Values{}
	form.Set("client_id", "client-1")
	form.Set("client_secret", "s3cret")
	form.Set("grant_type", "client_credentials")
	form.Set("audience", "https://api.example.com")
	form.Set("auth0_url", r.auth.TokenURL())

	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "form with parameters", contentType: "application/x-www-form-urlencoded; charset=UTF-8", body: form.Encode()},
		{name: "form in mixed case", contentType: "Application/X-WWW-Form-Urlencoded", body: form.Encode()},
		{name: "malformed header is JSON", contentType: "application/json;;", body: r.payload(nil)},
		{name: "missing header is JSON", contentType: "", body: r.payload(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vended := decodeToken(t, r.post(t, tc.contentType, tc.body))
			assert.NotEmpty(t, vended.AccessToken)
		})
	}
}

func TestPostToken_BodyTooLarge(t *testing.T) {
	r := setupRelay(t)

	rr := r.post(t, "application/json", `{"client_id":"`+strings.Repeat("a", 30<<10)+`"}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandlePostToken_VendorFailures(t *testing.T) {
	testhelpers.SetupLogger(t)

	cases := []struct {
		name        string
		err         error
		status      int
		body        string
		contentType string
	}{
		{
			name:        "transport failure",
			err:         &upstream.UpstreamError{StatusCode: 500, Body: "dial tcp: connection refused", Err: errors.New("dial tcp: connection refused")},
			status:      http.StatusInternalServerError,
			body:        "dial tcp: connection refused",
			contentType: "text/plain; charset=utf-8",
		},
		{
			name:        "unknown response",
			err:         &upstream.UnknownResponseError{Body: `{"token_type":"Bearer"}`, ContentType: "application/json"},
			status:      http.StatusInternalServerError,
			body:        `{"token_type":"Bearer"}`,
			contentType: "application/json",
		},
		{
			name:        "unclassified error",
			err:         errors.New("unexpected"),
			status:      http.StatusInternalServerError,
			body:        "Internal Server Error",
			contentType: "text/plain; charset=utf-8",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tokenVendor := func(ctx context.Context, req credential.Request) vendor.VendorResult {
				return vendor.NewVendorFailed(tc.err)
			}

			body := `{"client_id":"c","client_secret":"s","grant_type":"g","audience":"a","auth0_url":"https://auth.example.com/oauth/token"}`
			req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
			rr := httptest.NewRecorder()

			handlePostToken(tokenVendor).ServeHTTP(rr, req)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.body, rr.Body.String())
			assert.Equal(t, tc.contentType, rr.Header().Get("Content-Type"))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	r := setupRelay(t)

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rr := httptest.NewRecorder()
	r.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
