package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// StaleLockThreshold is the maximum age of a fetch lock before it's
	// considered abandoned.
	StaleLockThreshold = 10 * time.Minute
)

// ErrLockHeld is returned when another process holds the fetch lock.
var ErrLockHeld = errors.New("fetch lock held by another process")

// Lock is an advisory per-key fetch lock. It only reduces duplicate network
// traffic between processes racing on the same key.
type Lock struct {
	path string
	file *os.File
}

// LockPath returns the fetch lock file for key.
func (s *Store) LockPath(key Key) string {
	return filepath.Join(s.root, locksDirName, key.Tool+"-"+key.Hash+".lock")
}

// AcquireFetchLock attempts to take the fetch lock for key. Uses
// O_CREATE|O_EXCL for atomic lock creation; a stale lock is removed and
// creation retried once.
func (s *Store) AcquireFetchLock(key Key) (*Lock, error) {
	lockPath := s.LockPath(key)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(lockPath); !stale {
			return nil, ErrLockHeld
		}
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err != nil {
			return nil, ErrLockHeld
		}
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	return &Lock{path: lockPath, file: file}, nil
}

// Release releases the lock. Calling it on a nil lock is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		l.path = ""
	}
	return nil
}

// WaitForEntry polls until key is published, ctx is done, or timeout
// elapses. It is used while another process holds the fetch lock.
func (s *Store) WaitForEntry(ctx context.Context, key Key, timeout, poll time.Duration) (*Entry, bool) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if entry, ok := s.Lookup(key); ok {
			return entry, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
		}
	}
}

// isLockStale reports whether a lock file was left behind: its holder is
// no longer running, or it is older than StaleLockThreshold.
func isLockStale(lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	if pid, ok := lockHolder(lockPath); ok && !processAlive(pid) {
		return true, nil
	}
	return time.Since(info.ModTime()) > StaleLockThreshold, nil
}

// lockHolder reads the pid recorded in a lock file. A lock whose data is
// not written yet has no holder.
func lockHolder(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		value, found := strings.CutPrefix(line, "pid=")
		if !found {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || pid <= 0 {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}
