package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockAuthorizationServer provides a configurable OAuth2 token endpoint for
// testing.
type MockAuthorizationServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	token        string
	expiresIn    int64
	statusCode   int
	errorBody    string
	requestCount int
	lastGrant    url.Values
}

// SetupMockAuthorizationServer creates a token endpoint that answers every
// POST with the configured token, or with the configured failure. Both JSON
// and form encoded grants are accepted and recorded.
func SetupMockAuthorizationServer(t *testing.T) *MockAuthorizationServer {
	t.Helper()

	mock := &MockAuthorizationServer{
		token:      "test-access-token",
		expiresIn:  86400,
		statusCode: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		grant := readGrant(r)

		mock.mu.Lock()
		mock.requestCount++
		mock.lastGrant = grant
		status, body, token, expiresIn := mock.statusCode, mock.errorBody, mock.token, mock.expiresIn
		mock.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
			return
		}

		WriteJSON(w, map[string]any{
			"access_token": token,
			"expires_in":   expiresIn,
			"token_type":   "Bearer",
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// TokenURL is the address of the token endpoint.
func (m *MockAuthorizationServer) TokenURL() string {
	return m.Server.URL + "/oauth/token"
}

// SetToken configures the token returned by subsequent requests.
func (m *MockAuthorizationServer) SetToken(token string, expiresIn int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresIn = expiresIn
	m.statusCode = http.StatusOK
}

// Fail configures subsequent requests to fail with status and body.
func (m *MockAuthorizationServer) Fail(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
	m.errorBody = body
}

// RequestCount is the number of token requests received.
func (m *MockAuthorizationServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// LastGrant is the grant received by the most recent request.
func (m *MockAuthorizationServer) LastGrant() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastGrant
}

func readGrant(r *http.Request) url.Values {
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		_ = r.ParseForm()
		return r.PostForm
	}

	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	values := url.Values{}
	for k, v := range body {
		values.Set(k, v)
	}
	return values
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
