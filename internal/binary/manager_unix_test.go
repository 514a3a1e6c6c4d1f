//go:build unix

package binary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/buckle/internal/testutil"
)

func TestMaterialize_LockLeftByExitedProcess(t *testing.T) {
	f := newMaterializeFixture(t)
	f.server.AddAsset(testVersion, "tool.zst", testutil.Zstd(t, []byte("bin")))
	req := f.request("tool.zst", PackageZstdSingleFile)

	lockPath := f.store.LockPath(req.Key)
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("pid=%d\n", testutil.ExitedPID(t))), 0o644))

	// Far below DefaultLockWait: the abandoned lock must not be waited on.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry, fetched, err := f.m.Materialize(ctx, f.store, req)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.FileExists(t, entry.Path("tool"))
	assert.NoFileExists(t, lockPath, "the lock is released after fetching")
}
