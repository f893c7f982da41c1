package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), "https://idp.example.com")

	// Empty store loads as absent, not as an error.
	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)

	saved := &AuthState{
		Configuration:     &ServiceConfiguration{Issuer: "https://idp.example.com"},
		LastTokenResponse: &TokenResponse{AccessToken: "access-1", Expiry: time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestFileStoreSaveNilClears(t *testing.T) {
	store := NewFileStore(t.TempDir(), "https://idp.example.com")
	require.NoError(t, store.Save(&AuthState{LastTokenResponse: &TokenResponse{AccessToken: "a"}}))

	require.NoError(t, store.Save(nil))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestFileStoreClearIsIdempotent(t *testing.T) {
	store := NewFileStore(t.TempDir(), "https://idp.example.com")
	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
}

func TestFileStoreIsolatesIssuers(t *testing.T) {
	dir := t.TempDir()
	first := NewFileStore(dir, "https://one.example.com")
	second := NewFileStore(dir, "https://two.example.com")

	require.NoError(t, first.Save(&AuthState{LastTokenResponse: &TokenResponse{AccessToken: "one"}}))

	state, err := second.Load()
	require.NoError(t, err)
	assert.Nil(t, state)

	state, err = first.Load()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "one", state.LastTokenResponse.AccessToken)
}

func TestFileStorePermissions(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "https://idp.example.com")
	require.NoError(t, store.Save(&AuthState{LastTokenResponse: &TokenResponse{AccessToken: "a"}}))

	info, err := os.Stat(store.path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Dir(store.path()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)

	saved := &AuthState{LastTokenResponse: &TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1"}}
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)

	require.NoError(t, store.Save(nil))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
