package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	lock := New(path)

	require.NoError(t, lock.Lock(time.Second))
	_, err := os.Stat(path + ".lock")
	assert.NoError(t, err, "lock file should exist while held")

	require.NoError(t, lock.Unlock())
	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file should be removed on unlock")
}

func TestLockTwiceFails(t *testing.T) {
	lock := New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, lock.Lock(time.Second))
	defer func() { _ = lock.Unlock() }()

	assert.Error(t, lock.Lock(100*time.Millisecond))
}

func TestLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	first := New(path)
	second := New(path)

	require.NoError(t, first.Lock(time.Second))

	// The second holder times out while the first still holds the lock.
	err := second.Lock(100 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock(time.Second))
	require.NoError(t, second.Unlock())
}

func TestUnlockWithoutLockIsNoOp(t *testing.T) {
	lock := New(filepath.Join(t.TempDir(), "state.json"))
	assert.NoError(t, lock.Unlock())
}

func TestWithLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	lock := New(path)

	var ran bool
	err := lock.WithLock(time.Second, func() error {
		ran = true
		_, statErr := os.Stat(path + ".lock")
		assert.NoError(t, statErr, "lock should be held inside the callback")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock should be released afterward")
}

func TestStaleLockReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	lockPath := path + ".lock"

	// Simulate a lock abandoned by a dead process.
	require.NoError(t, os.WriteFile(lockPath, nil, 0600))
	old := time.Now().Add(-2 * staleAge)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	lock := New(path)
	require.NoError(t, lock.Lock(time.Second))
	require.NoError(t, lock.Unlock())
}
