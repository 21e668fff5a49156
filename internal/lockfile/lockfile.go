// Package lockfile keeps two modshelf processes from scanning the same data root at once.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned when a live process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// LockFile represents an exclusive lock on a file
type LockFile struct {
	path string
	file *os.File
}

// Acquire creates the lock file and writes our PID into it. A lock left behind by a
// process that no longer exists is removed and acquisition retried once.
func Acquire(path string) (*LockFile, error) {
	l, err := create(path)
	if err == nil || !os.IsExist(err) {
		return l, err
	}
	if err := clearStale(path); err != nil {
		return nil, err
	}
	l, err = create(path)
	if os.IsExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return l, err
}

func create(path string) (*LockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to sync lock file: %w", err)
	}
	return &LockFile{path: path, file: f}, nil
}

// clearStale removes the lock at path if its owner is gone.
func clearStale(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lock file exists but cannot be read: %s\nRemove it manually if no scan is running: rm %s", path, path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("lock file contains invalid PID: %s\nRemove it manually if corrupted: rm %s", path, path)
	}
	if processExists(pid) {
		return fmt.Errorf("%w: a scan is already running (PID %d)\nWait for it to finish or remove the lock if stale: %s", ErrLocked, pid, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stale lock file found (PID %d not running) but cannot be removed: %w", pid, err)
	}
	return nil
}

// processExists checks if a process with the given PID is running
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes for existence.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM: it exists but belongs to someone else.
	return true
}

// Release releases the lock and removes the lock file
func (l *LockFile) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Path returns the path to the lock file
func (l *LockFile) Path() string {
	return l.path
}
