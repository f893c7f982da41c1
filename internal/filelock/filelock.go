package filelock

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// staleAge is the age after which an abandoned lock file is reclaimed.
const staleAge = 5 * time.Minute

// FileLock provides file-based locking to prevent concurrent access
// to a persisted state slot across processes.
type FileLock struct {
	path     string
	file     *os.File
	acquired bool
	mu       sync.Mutex
}

// New creates a new file lock guarding the given path.
func New(path string) *FileLock {
	return &FileLock{
		path: path + ".lock",
	}
}

// Lock acquires the file lock with a timeout.
func (fl *FileLock) Lock(timeout time.Duration) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.acquired {
		return fmt.Errorf("lock already acquired")
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err == nil {
			fl.file = file
			fl.acquired = true
			return nil
		}

		if os.IsExist(err) {
			fl.reclaimStale()
			time.Sleep(10 * time.Millisecond)
			continue
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return fmt.Errorf("timeout acquiring lock after %v", timeout)
}

// reclaimStale removes the lock file if its holder appears to have died.
func (fl *FileLock) reclaimStale() {
	info, err := os.Stat(fl.path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > staleAge {
		_ = os.Remove(fl.path)
	}
}

// Unlock releases the file lock.
func (fl *FileLock) Unlock() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if !fl.acquired {
		return nil
	}

	var err error
	if fl.file != nil {
		err = fl.file.Close()
		fl.file = nil
	}

	if removeErr := os.Remove(fl.path); removeErr != nil && !os.IsNotExist(removeErr) {
		if err == nil {
			err = fmt.Errorf("failed to remove lock file: %w", removeErr)
		}
	}

	fl.acquired = false
	return err
}

// WithLock executes a function while holding the lock.
func (fl *FileLock) WithLock(timeout time.Duration, fn func() error) error {
	if err := fl.Lock(timeout); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}
