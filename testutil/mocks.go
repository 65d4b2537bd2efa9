package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// MockTwitchServer is a test server standing in for the Twitch identity endpoints.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	forms []url.Values
}

// NewMockTwitchServer creates a new mock Twitch identity server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Endpoint points an oauth2.Config at this server.
func (m *MockTwitchServer) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   m.URL + "/oauth2/authorize",
		TokenURL:  m.URL + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// TokenForms returns the form bodies posted to the token endpoint so far.
func (m *MockTwitchServer) TokenForms() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.forms...)
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint. Both the
// authorization_code and refresh_token grants receive the same response;
// Twitch reports scope as a JSON array.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int, scopes ...string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.forms = append(m.forms, r.PostForm)
		m.mu.Unlock()

		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		if refreshToken != "" {
			response["refresh_token"] = refreshToken
		}
		if len(scopes) > 0 {
			response["scope"] = scopes
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenError makes the token endpoint reject every grant.
func (m *MockTwitchServer) MockOAuthTokenError(status int, message string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"status":  status,
			"message": message,
		})
	}
}
