package binary

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
	"github.com/ZebulonRouseFrantzich/buckle/internal/testutil"
)

const testVersion = "2024-09-02"

type materializeFixture struct {
	server *testutil.ReleaseServer
	store  *cache.Store
	m      *Materializer
}

func newMaterializeFixture(t *testing.T) *materializeFixture {
	t.Helper()
	return &materializeFixture{
		server: testutil.NewReleaseServer(t),
		store:  cache.NewStore(filepath.Join(t.TempDir(), "buckle"), zerolog.Nop()),
		m:      NewMaterializer(newTestFetcher(), zerolog.Nop()),
	}
}

func (f *materializeFixture) request(archive string, pt PackageType) Request {
	return Request{
		Key:         cache.NewKey("tool", testVersion, "x86_64-unknown-linux-musl"),
		URL:         f.server.BaseURL() + "/" + testVersion + "/" + archive,
		ArchiveName: archive,
		PackageType: pt,
		BinaryPath:  "tool",
	}
}

func assertNoStaging(t *testing.T, store *cache.Store) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(store.Root(), ".staging"))
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "failed population must not leave staging behind")
}

func TestMaterialize_FetchThenHit(t *testing.T) {
	f := newMaterializeFixture(t)
	f.server.AddAsset(testVersion, "tool.tar.zst", testutil.TarZst(t, []testutil.File{
		{Name: "bin/tool", Body: "#!/bin/sh\n", Mode: 0o755},
	}))
	req := f.request("tool.tar.zst", PackageTarZst)

	entry, fetched, err := f.m.Materialize(context.Background(), f.store, req)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.FileExists(t, entry.Path("bin/tool"))
	assert.Equal(t, "tool.tar.zst", entry.Marker.Archive)
	assert.Equal(t, req.URL, entry.Marker.URL)
	assert.NoFileExists(t, filepath.Join(entry.Dir, ".download", "tool.tar.zst"))

	downloads := f.server.DownloadHits()
	again, fetched, err := f.m.Materialize(context.Background(), f.store, req)
	require.NoError(t, err)
	assert.False(t, fetched)
	assert.Equal(t, entry.Dir, again.Dir)
	assert.Equal(t, downloads, f.server.DownloadHits(), "a cache hit must not touch the network")
	assert.Equal(t, "buckle/test", f.server.LastUserAgent())
}

func TestMaterialize_SingleFile(t *testing.T) {
	f := newMaterializeFixture(t)
	f.server.AddAsset(testVersion, "tool-x86_64-unknown-linux-musl.zst", testutil.Zstd(t, []byte("#!/bin/sh\necho hi\n")))

	entry, _, err := f.m.Materialize(context.Background(), f.store, f.request("tool-x86_64-unknown-linux-musl.zst", PackageZstdSingleFile))
	require.NoError(t, err)

	info, err := os.Stat(entry.Path("tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o111)
}

func TestMaterialize_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f *materializeFixture) Request
		wantKind ErrorKind
	}{
		{
			name: "unpublished_archive",
			setup: func(t *testing.T, f *materializeFixture) Request {
				return f.request("tool.tar.zst", PackageTarZst)
			},
			wantKind: KindHTTP,
		},
		{
			name: "corrupt_archive",
			setup: func(t *testing.T, f *materializeFixture) Request {
				f.server.AddAsset(testVersion, "tool.tar.zst", []byte("garbage"))
				return f.request("tool.tar.zst", PackageTarZst)
			},
			wantKind: KindCorrupt,
		},
		{
			name: "checksum_mismatch",
			setup: func(t *testing.T, f *materializeFixture) Request {
				f.server.AddAsset(testVersion, "tool.zst", testutil.Zstd(t, []byte("bin")))
				f.server.AddAsset(testVersion, "tool.zst.sha256", []byte(sha256Hex([]byte("other"))))
				req := f.request("tool.zst", PackageZstdSingleFile)
				req.ChecksumURL = req.URL + ".sha256"
				return req
			},
			wantKind: KindVerify,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMaterializeFixture(t)
			req := tt.setup(t, f)

			_, _, err := f.m.Materialize(context.Background(), f.store, req)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.wantKind), "got %v", err)

			_, ok := f.store.Lookup(req.Key)
			assert.False(t, ok)
			assertNoStaging(t, f.store)
		})
	}
}

func TestMaterialize_ChecksumVerified(t *testing.T) {
	f := newMaterializeFixture(t)
	archive := testutil.Zstd(t, []byte("bin"))
	f.server.AddAsset(testVersion, "tool.zst", archive)
	f.server.AddAsset(testVersion, "SHA256SUMS", []byte(sha256Hex(archive)+"  tool.zst\n"))

	req := f.request("tool.zst", PackageZstdSingleFile)
	req.ChecksumURL = f.server.BaseURL() + "/" + testVersion + "/SHA256SUMS"

	_, fetched, err := f.m.Materialize(context.Background(), f.store, req)
	require.NoError(t, err)
	assert.True(t, fetched)
}

func TestMaterialize_SignatureVerified(t *testing.T) {
	f := newMaterializeFixture(t)
	archive := testutil.Zstd(t, []byte("bin"))
	signer := newSigningFixture(t, true)
	f.server.AddAsset(testVersion, "tool.zst", archive)
	f.server.AddAsset(testVersion, "tool.zst.sig", signer.sign(t, archive, false))

	req := f.request("tool.zst", PackageZstdSingleFile)
	req.SignatureURL = req.URL + ".sig"
	req.KeyringPath = signer.keyringPath

	_, _, err := f.m.Materialize(context.Background(), f.store, req)
	require.NoError(t, err)
}

func TestMaterialize_LockHeldElsewhere(t *testing.T) {
	f := newMaterializeFixture(t)
	f.m.lockWait = 50 * time.Millisecond
	f.m.poll = 10 * time.Millisecond
	f.server.AddAsset(testVersion, "tool.zst", testutil.Zstd(t, []byte("bin")))
	req := f.request("tool.zst", PackageZstdSingleFile)

	held, err := f.store.AcquireFetchLock(req.Key)
	require.NoError(t, err)
	defer held.Release()

	entry, fetched, err := f.m.Materialize(context.Background(), f.store, req)
	require.NoError(t, err, "a held lock must never block correctness")
	assert.True(t, fetched)
	assert.FileExists(t, entry.Path("tool"))
}

func TestMaterialize_Concurrent(t *testing.T) {
	f := newMaterializeFixture(t)
	f.server.AddAsset(testVersion, "tool.tar.gz", testutil.TarGz(t, []testutil.File{
		{Name: "tool", Body: "#!/bin/sh\necho same\n", Mode: 0o755},
		{Name: "lib/data", Body: "payload"},
	}))
	req := f.request("tool.tar.gz", PackageTarGz)

	const workers = 6
	var wg sync.WaitGroup
	dirs := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := NewMaterializer(newTestFetcher(), zerolog.Nop())
			m.poll = 5 * time.Millisecond
			entry, _, err := m.Materialize(context.Background(), f.store, req)
			errs[i] = err
			if err == nil {
				dirs[i] = entry.Dir
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		data, err := os.ReadFile(filepath.Join(dirs[i], "lib", "data"))
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
}
