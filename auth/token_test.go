package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigFor(serverURL string) *ServiceConfiguration {
	return &ServiceConfiguration{
		Issuer:                serverURL,
		AuthorizationEndpoint: serverURL + "/authorize",
		TokenEndpoint:         serverURL + "/token",
	}
}

func TestExchangeCodeComputesExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		assert.Equal(t, "secret-1", r.Form.Get("client_secret"))
		assert.Equal(t, "http://127.0.0.1:8400/callback", r.Form.Get("redirect_uri"))
		assert.Equal(t, "verifier-1", r.Form.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	exchanger := NewExchanger(WithExchangerNow(func() time.Time { return now }))

	tok, err := exchanger.ExchangeCode(context.Background(), testConfigFor(server.URL),
		"client-1", "secret-1", "the-code", "http://127.0.0.1:8400/callback", "verifier-1")
	require.NoError(t, err)

	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), tok.Expiry)
}

func TestExchangeCodeWithoutExpiresIn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-1",
			"token_type":   "Bearer",
		})
	}))
	defer server.Close()

	tok, err := NewExchanger().ExchangeCode(context.Background(), testConfigFor(server.URL),
		"client-1", "", "the-code", "http://127.0.0.1:8400/callback", "")
	require.NoError(t, err)

	// No expires_in: treated as non-expiring.
	assert.True(t, tok.Expiry.IsZero())
	assert.True(t, tok.fresh(time.Now().Add(1000*time.Hour), freshnessMargin))
}

func TestRefreshKeepsOldRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-old", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-2",
			"expires_in":   600,
		})
	}))
	defer server.Close()

	tok, err := NewExchanger().Refresh(context.Background(), testConfigFor(server.URL),
		"client-1", "", "refresh-old")
	require.NoError(t, err)

	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-old", tok.RefreshToken)
}

func TestTokenErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantKind Kind
	}{
		{"invalid grant", "invalid_grant", KindInvalidGrant},
		{"invalid client", "invalid_client", KindInvalidClient},
		{"unauthorized client", "unauthorized_client", KindInvalidClient},
		{"other provider error", "temporarily_unavailable", KindProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error":             tt.code,
					"error_description": "details from provider",
				})
			}))
			defer server.Close()

			_, err := NewExchanger().Refresh(context.Background(), testConfigFor(server.URL),
				"client-1", "", "refresh-1")
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.wantKind), "expected %s, got %v", tt.wantKind, err)

			var flowErr *Error
			require.ErrorAs(t, err, &flowErr)
			assert.Equal(t, "details from provider", flowErr.Detail)
			assert.Equal(t, http.StatusBadRequest, flowErr.Status)
		})
	}
}

func TestTokenMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"missing access_token", `{"token_type":"Bearer"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewExchanger().ExchangeCode(context.Background(), testConfigFor(server.URL),
				"client-1", "", "the-code", "http://127.0.0.1:8400/callback", "")
			require.Error(t, err)
			assert.True(t, IsKind(err, KindMalformedResponse))
		})
	}
}

func TestTokenNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := NewExchanger().ExchangeCode(context.Background(), testConfigFor(server.URL),
		"client-1", "", "the-code", "http://127.0.0.1:8400/callback", "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
}
