package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenrelay/token-relay/internal/credential"
	"github.com/tokenrelay/token-relay/internal/upstream"
)

type captured struct {
	contentType string
	body        []byte
}

func serve(t *testing.T, status int, body string, seen *captured) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		if seen != nil {
			seen.contentType = r.Header.Get("Content-Type")
			seen.body, _ = io.ReadAll(r.Body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func request(tokenURL string) credential.Request {
	return credential.Request{
		ClientID:         "client-1",
		ClientSecret:     "s3cret",
		GrantType:        "client_credentials",
		Grant:            credential.Audience("https://api.example.com"),
		AuthorizationURL: tokenURL,
		Provider:         credential.DefaultProvider,
	}
}

func TestFetch_JSONGrant(t *testing.T) {
	var seen captured
	srv := serve(t, http.StatusOK, `{"access_token":"abc","expires_in":86400,"token_type":"Bearer"}`, &seen)

	client := upstream.New(srv.Client(), time.Second)
	token, err := client.Fetch(context.Background(), request(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, upstream.Token{AccessToken: "abc", ExpiresIn: 86400, TokenType: "Bearer"}, token)

	assert.Equal(t, "application/json", seen.contentType)
	var sent map[string]string
	require.NoError(t, json.Unmarshal(seen.body, &sent))
	assert.Equal(t, map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     "client-1",
		"client_secret": "s3cret",
		"audience":      "https://api.example.com",
	}, sent)
}

func TestFetch_FormGrant(t *testing.T) {
	var seen captured
	srv := serve(t, http.StatusOK, `{"access_token":"abc"}`, &seen)

	req := request(srv.URL)
	req.ContentType = credential.ContentTypeForm
	req.Grant = credential.Scope("read:all")

	_, err := upstream.New(srv.Client(), time.Second).Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", seen.contentType)
	values, err := url.ParseQuery(string(seen.body))
	require.NoError(t, err)
	assert.Equal(t, "read:all", values.Get("scope"))
	assert.Equal(t, "client_credentials", values.Get("grant_type"))
	assert.False(t, values.Has("audience"))
}

func TestFetch_UpstreamFailure(t *testing.T) {
	srv := serve(t, http.StatusUnauthorized, `{"error":"invalid_client"}`, nil)

	_, err := upstream.New(srv.Client(), time.Second).Fetch(context.Background(), request(srv.URL))

	var upstreamErr *upstream.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.False(t, upstreamErr.Transport())
	assert.Equal(t, "application/json", upstreamErr.ContentType)

	status, body := upstreamErr.Status()
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, `{"error":"invalid_client"}`, body)
}

func TestFetch_UnknownResponse(t *testing.T) {
	cases := map[string]string{
		"no token":     `{"token_type":"Bearer"}`,
		"empty token":  `{"access_token":""}`,
		"not json":     `<html>ok</html>`,
		"empty object": `{}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, body, nil)

			_, err := upstream.New(srv.Client(), time.Second).Fetch(context.Background(), request(srv.URL))

			var unknown *upstream.UnknownResponseError
			require.ErrorAs(t, err, &unknown)

			status, message := unknown.Status()
			assert.Equal(t, http.StatusInternalServerError, status)
			assert.Equal(t, body, message)
		})
	}
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestFetch_TransportFailure(t *testing.T) {
	_, err := upstream.New(failingDoer{}, time.Second).Fetch(context.Background(), request("https://auth.example.com/oauth/token"))

	var upstreamErr *upstream.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.True(t, upstreamErr.Transport())

	status, body := upstreamErr.Status()
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "connection refused")
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	_, err := upstream.New(srv.Client(), 50*time.Millisecond).Fetch(context.Background(), request(srv.URL))

	var upstreamErr *upstream.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.True(t, upstreamErr.Transport())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
