package auth

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oidcflow/oidcflow/internal/filelock"
)

// stateFileName is the single slot holding the serialized AuthState for an
// issuer. Absence of the file means "no saved session".
const stateFileName = "authstate.json"

// Store persists the AuthState blob for one session. Load returns
// (nil, nil) when nothing is saved.
type Store interface {
	Load() (*AuthState, error)
	Save(*AuthState) error
	Clear() error
}

// FileStore keeps the AuthState in a JSON file under a state directory,
// keyed by a hash of the issuer URL so different providers do not collide.
// Writes are guarded by a lock file against concurrent processes.
type FileStore struct {
	dir         string
	issuerHash  string
	lockTimeout time.Duration
}

// NewFileStore creates a store for the given issuer. An empty dir resolves
// to $OIDCFLOW_STATE_DIR, falling back to ~/.oidcflow.
func NewFileStore(dir, issuer string) *FileStore {
	if dir == "" {
		dir = DefaultStateDir()
	}
	return &FileStore{
		dir:         dir,
		issuerHash:  issuerHash(issuer),
		lockTimeout: 5 * time.Second,
	}
}

// DefaultStateDir returns the base directory for persisted state.
func DefaultStateDir() string {
	if dir := os.Getenv("OIDCFLOW_STATE_DIR"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".oidcflow"
	}
	return filepath.Join(homeDir, ".oidcflow")
}

// issuerHash derives a short stable directory name from an issuer URL.
func issuerHash(issuer string) string {
	hash := sha256.Sum256([]byte(issuer))
	return fmt.Sprintf("%x", hash[:8])
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, s.issuerHash, stateFileName)
}

// Load reads the saved AuthState, or (nil, nil) when none exists.
func (s *FileStore) Load() (*AuthState, error) {
	var state *AuthState
	lock := filelock.New(s.path())

	err := lock.WithLock(s.lockTimeout, func() error {
		data, err := os.ReadFile(s.path())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to read auth state file: %w", err)
		}

		state, err = DecodeState(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// Save writes the AuthState to the slot. Saving nil clears it.
func (s *FileStore) Save(state *AuthState) error {
	if state == nil {
		return s.Clear()
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := EncodeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal auth state: %w", err)
	}

	lock := filelock.New(s.path())
	return lock.WithLock(s.lockTimeout, func() error {
		if err := os.WriteFile(s.path(), data, 0600); err != nil {
			return fmt.Errorf("failed to write auth state file: %w", err)
		}
		return nil
	})
}

// Clear removes the saved session, if any.
func (s *FileStore) Clear() error {
	lock := filelock.New(s.path())
	return lock.WithLock(s.lockTimeout, func() error {
		err := os.Remove(s.path())
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove auth state file: %w", err)
		}
		return nil
	})
}

// MemoryStore keeps the encoded AuthState in memory. It round-trips through
// the same serialization as FileStore, so tests exercise the real encoding.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load decodes the stored AuthState, or (nil, nil) when empty.
func (s *MemoryStore) Load() (*AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return DecodeState(s.data)
}

// Save encodes and stores the AuthState. Saving nil clears the slot.
func (s *MemoryStore) Save(state *AuthState) error {
	if state == nil {
		return s.Clear()
	}
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// Clear empties the slot.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
