package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSuccessSeedsManager(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client_secret_post", body["token_endpoint_auth_method"])
		assert.NotEmpty(t, body["redirect_uris"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"client_id":     "issued-client-id",
			"client_secret": "issued-secret",
			"redirect_uris": []string{"http://127.0.0.1:8400/callback"},
		})
	}))
	defer server.Close()

	manager := NewManager(NewMemoryStore(), NewExchanger())
	cfg := &ServiceConfiguration{
		Issuer:                server.URL,
		AuthorizationEndpoint: server.URL + "/authorize",
		TokenEndpoint:         server.URL + "/token",
		RegistrationEndpoint:  server.URL + "/register",
	}

	reg, err := NewRegistrar(manager).Register(context.Background(), cfg,
		[]string{"http://127.0.0.1:8400/callback"}, "")
	require.NoError(t, err)

	assert.Equal(t, "issued-client-id", reg.ClientID)
	assert.Equal(t, "issued-secret", reg.ClientSecret)

	// Registration seeds a fresh AuthState.
	state := manager.Current()
	require.NotNil(t, state)
	assert.Equal(t, reg, state.Registration)
	assert.Equal(t, cfg, state.Configuration)
	assert.False(t, state.IsAuthorized())
}

func TestRegisterEndpointMissing(t *testing.T) {
	manager := NewManager(NewMemoryStore(), NewExchanger())
	cfg := &ServiceConfiguration{
		AuthorizationEndpoint: "https://example.com/authorize",
		TokenEndpoint:         "https://example.com/token",
	}

	_, err := NewRegistrar(manager).Register(context.Background(), cfg,
		[]string{"http://127.0.0.1:8400/callback"}, "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindEndpointMissing))

	// AuthState remains absent.
	assert.Nil(t, manager.Current())
}

func TestRegisterRejectedByServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "registration disabled", http.StatusForbidden)
	}))
	defer server.Close()

	manager := NewManager(NewMemoryStore(), NewExchanger())
	cfg := &ServiceConfiguration{
		AuthorizationEndpoint: server.URL + "/authorize",
		TokenEndpoint:         server.URL + "/token",
		RegistrationEndpoint:  server.URL + "/register",
	}

	_, err := NewRegistrar(manager).Register(context.Background(), cfg,
		[]string{"http://127.0.0.1:8400/callback"}, "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRejected))
	assert.Nil(t, manager.Current())
}

func TestRegisterRequiresRedirectURI(t *testing.T) {
	_, err := NewRegistrar(nil).Register(context.Background(), &ServiceConfiguration{
		RegistrationEndpoint: "https://example.com/register",
	}, nil, "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRejected))
}
