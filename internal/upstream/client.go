// Package upstream requests client-credentials tokens from an OAuth2
// authorization server.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tokenrelay/token-relay/internal/credential"
)

// maxResponseBytes bounds how much of an authorization server response is
// read, in both the success and failure cases.
const maxResponseBytes = 1 << 20

// HTTPDoer is the subset of http.Client used to reach the authorization
// server.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Token is the parsed success response of the authorization server.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type,omitempty"`
}

type Client struct {
	httpClient HTTPDoer
	timeout    time.Duration
}

// New creates a client that issues grant requests with httpClient. A positive
// timeout bounds each request, including reading the response.
func New(httpClient HTTPDoer, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Fetch performs a single client-credentials grant request against
// req.AuthorizationURL. It is not retried.
//
// A non-200 response yields an *UpstreamError carrying the server's status and
// body, a 200 response without an access token yields an
// *UnknownResponseError, and a transport failure yields an *UpstreamError with
// status 500.
func (c *Client) Fetch(ctx context.Context, req credential.Request) (Token, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := encodeGrant(req)
	if err != nil {
		return Token{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.AuthorizationURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, transportError(fmt.Errorf("creating token request: %w", err))
	}
	httpReq.Header.Set("Content-Type", req.ContentType.MIMEType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Token{}, transportError(fmt.Errorf("token request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Token{}, transportError(fmt.Errorf("reading token response: %w", err))
	}

	log.Ctx(ctx).Debug().
		Str("client_id", req.ClientID).
		Int("status", resp.StatusCode).
		Msg("authorization server responded")

	if resp.StatusCode != http.StatusOK {
		return Token{}, &UpstreamError{
			StatusCode:  resp.StatusCode,
			Body:        string(respBody),
			ContentType: resp.Header.Get("Content-Type"),
		}
	}

	var token Token
	if err := json.Unmarshal(respBody, &token); err != nil || token.AccessToken == "" {
		return Token{}, &UnknownResponseError{
			Body:        string(respBody),
			ContentType: resp.Header.Get("Content-Type"),
		}
	}

	return token, nil
}

// grant is the JSON form of a client-credentials grant request. Exactly one of
// Audience and Scope is set.
type grant struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func encodeGrant(req credential.Request) ([]byte, error) {
	if req.ContentType == credential.ContentTypeForm {
		values := url.Values{}
		values.Set("grant_type", req.GrantType)
		values.Set("client_id", req.ClientID)
		values.Set("client_secret", req.ClientSecret)
		if field := req.Grant.Field(); field != "" {
			values.Set(field, req.Grant.Value())
		}

		return []byte(values.Encode()), nil
	}

	g := grant{
		GrantType:    req.GrantType,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	}
	switch req.Grant.Kind() {
	case credential.GrantAudience:
		g.Audience = req.Grant.Value()
	case credential.GrantScope:
		g.Scope = req.Grant.Value()
	}

	body, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding grant request: %w", err)
	}
	return body, nil
}
