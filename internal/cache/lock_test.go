package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFetchLock(t *testing.T) {
	store := newTestStore(t)
	key := NewKey("tool", "1", "t")

	lock, err := store.AcquireFetchLock(key)
	require.NoError(t, err)

	_, err = store.AcquireFetchLock(key)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Release())

	again, err := store.AcquireFetchLock(key)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireFetchLock_Stale(t *testing.T) {
	store := newTestStore(t)
	key := NewKey("tool", "1", "t")

	lock, err := store.AcquireFetchLock(key)
	require.NoError(t, err)

	past := time.Now().Add(-StaleLockThreshold - time.Minute)
	require.NoError(t, os.Chtimes(lock.path, past, past))

	taken, err := store.AcquireFetchLock(key)
	require.NoError(t, err)
	require.NoError(t, taken.Release())
}

func TestLockRelease_Nil(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}

func TestWaitForEntry(t *testing.T) {
	store := newTestStore(t)
	key := NewKey("tool", "1", "t")

	_, ok := store.WaitForEntry(context.Background(), key, 50*time.Millisecond, 10*time.Millisecond)
	assert.False(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		st, err := store.BeginPopulate(key)
		if err != nil {
			return
		}
		os.WriteFile(filepath.Join(st.Dir, "tool"), []byte("x"), 0o755)
		store.Publish(st, Marker{})
	}()

	entry, ok := store.WaitForEntry(context.Background(), key, 5*time.Second, 10*time.Millisecond)
	require.True(t, ok)
	assert.FileExists(t, entry.Path("tool"))
}
