package binary

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
)

// DefaultLockWait bounds how long to wait for another process that holds
// the fetch lock before fetching anyway.
const DefaultLockWait = 2 * time.Minute

// Request describes one archive to materialize.
type Request struct {
	Key         cache.Key
	URL         string
	ArchiveName string
	PackageType PackageType
	// BinaryPath is where single-file packages put the executable.
	BinaryPath string

	ChecksumURL  string
	SignatureURL string
	KeyringPath  string
}

// Materializer orchestrates download, verification, extraction and
// publication of cache entries.
type Materializer struct {
	fetcher  *Fetcher
	logger   zerolog.Logger
	lockWait time.Duration
	poll     time.Duration
}

// NewMaterializer creates a materializer fetching through f.
func NewMaterializer(f *Fetcher, logger zerolog.Logger) *Materializer {
	return &Materializer{
		fetcher:  f,
		logger:   logger,
		lockWait: DefaultLockWait,
		poll:     250 * time.Millisecond,
	}
}

// Materialize returns the published entry for req.Key, fetching and
// unpacking the archive first when the cache has no entry. The second
// return value reports whether anything was downloaded.
func (m *Materializer) Materialize(ctx context.Context, store *cache.Store, req Request) (*cache.Entry, bool, error) {
	if entry, ok := store.Lookup(req.Key); ok {
		return entry, false, nil
	}

	lock, err := store.AcquireFetchLock(req.Key)
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		m.logger.Info().Str("tool", req.Key.Tool).Str("version", req.Key.Version).Msg("waiting for another process fetching the same version")
		if entry, ok := store.WaitForEntry(ctx, req.Key, m.lockWait, m.poll); ok {
			return entry, false, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		m.logger.Debug().Msg("fetch lock still held, fetching anyway")
	case err != nil:
		m.logger.Debug().Err(err).Msg("fetch lock unavailable, continuing without it")
	default:
		defer func() {
			if err := lock.Release(); err != nil {
				m.logger.Debug().Err(err).Msg("release fetch lock")
			}
		}()
		if entry, ok := store.Lookup(req.Key); ok {
			return entry, false, nil
		}
	}

	if n, err := store.CleanStaging(cache.DefaultStagingMaxAge); err != nil {
		m.logger.Debug().Err(err).Msg("clean stale staging")
	} else if n > 0 {
		m.logger.Debug().Int("removed", n).Msg("removed stale staging directories")
	}

	extractor, err := NewExtractor(req.PackageType, req.BinaryPath)
	if err != nil {
		return nil, false, &FetchError{Kind: KindCorrupt, URL: req.URL, Err: err}
	}

	staging, err := store.BeginPopulate(req.Key)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err := staging.Discard(); err != nil {
			m.logger.Debug().Err(err).Msg("discard staging")
		}
	}()

	archiveName := req.ArchiveName
	if archiveName == "" {
		archiveName = filepath.Base(req.URL)
	}
	archivePath := filepath.Join(staging.DownloadDir(), archiveName)

	m.logger.Info().Str("tool", req.Key.Tool).Str("version", req.Key.Version).Str("url", req.URL).Msg("fetching")
	start := time.Now()
	if err := m.fetcher.Fetch(ctx, req.URL, archivePath); err != nil {
		return nil, false, err
	}

	if err := m.verify(ctx, req, archivePath, archiveName); err != nil {
		return nil, false, err
	}

	if err := extractor.Extract(archivePath, staging.Dir); err != nil {
		var cacheErr *cache.CacheError
		if errors.As(err, &cacheErr) {
			return nil, false, err
		}
		return nil, false, &FetchError{Kind: KindCorrupt, URL: req.URL, Err: err}
	}

	entry, err := store.Publish(staging, cache.Marker{Archive: archiveName, URL: req.URL})
	if err != nil {
		return nil, false, err
	}

	m.logger.Debug().Str("dir", entry.Dir).Dur("took", time.Since(start)).Msg("published cache entry")
	return entry, true, nil
}

// verify runs the configured checks. Archives with no configured checks
// pass.
func (m *Materializer) verify(ctx context.Context, req Request, archivePath, archiveName string) error {
	if req.ChecksumURL == "" && req.SignatureURL == "" {
		return nil
	}
	verifier := NewVerifier(req.KeyringPath)

	if req.ChecksumURL != "" {
		sums, err := m.fetcher.FetchText(ctx, req.ChecksumURL)
		if err != nil {
			return err
		}
		if err := verifier.VerifyChecksum(archivePath, archiveName, sums); err != nil {
			return &FetchError{Kind: KindVerify, URL: req.URL, Err: err}
		}
		m.logger.Debug().Str("archive", archiveName).Msg("checksum verified")
	}

	if req.SignatureURL != "" {
		sig, err := m.fetcher.FetchBytes(ctx, req.SignatureURL)
		if err != nil {
			return err
		}
		if err := verifier.VerifySignature(archivePath, sig); err != nil {
			return &FetchError{Kind: KindVerify, URL: req.URL, Err: fmt.Errorf("signature: %w", err)}
		}
		m.logger.Debug().Str("archive", archiveName).Msg("signature verified")
	}
	return nil
}
