// Package cache implements the on-disk, content-addressed store of
// extracted tools.
//
// Entries are populated in a private staging directory and published with
// a single rename, so a reader either finds nothing under a key or a
// complete entry with its marker. Nothing is locked for correctness; the
// advisory fetch lock in lock.go only avoids duplicate downloads.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MarkerFile is written last into a staging directory; its presence
	// with a matching key is what makes an entry valid.
	MarkerFile = ".buckle-entry.json"

	stagingDirName  = ".staging"
	trashDirName    = ".trash"
	locksDirName    = ".locks"
	downloadDirName = ".download"

	// DefaultStagingMaxAge is the age after which abandoned staging
	// directories are removed.
	DefaultStagingMaxAge = time.Hour
)

// ErrNotStaged is returned when publishing a staging handle twice or after
// it was discarded.
var ErrNotStaged = errors.New("staging handle is no longer active")

// CacheError reports a filesystem failure inside the store.
type CacheError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// Marker describes a published entry.
type Marker struct {
	Key       string    `json:"key"`
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	Target    string    `json:"target"`
	Archive   string    `json:"archive,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a published, immutable cache entry.
type Entry struct {
	Key    Key
	Dir    string
	Marker Marker
}

// Path joins a slash-separated path inside the entry.
func (e *Entry) Path(rel string) string {
	return filepath.Join(e.Dir, filepath.FromSlash(rel))
}

// Staging is a private directory being populated for one key.
type Staging struct {
	Key Key
	Dir string

	store  *Store
	active bool
}

// DownloadDir is where fetched archives live until extraction. It is
// removed before publication.
func (s *Staging) DownloadDir() string {
	return filepath.Join(s.Dir, downloadDirName)
}

// Discard deletes the staging directory. It is safe to call after Publish.
func (s *Staging) Discard() error {
	if !s.active {
		return nil
	}
	s.active = false
	if err := os.RemoveAll(s.Dir); err != nil {
		return &CacheError{Op: "discard", Path: s.Dir, Err: err}
	}
	return nil
}

// Store is the cache rooted at one directory.
type Store struct {
	root   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a store rooted at root. The directory is created lazily.
func NewStore(root string, logger zerolog.Logger) *Store {
	return &Store{root: root, logger: logger, now: time.Now}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// ResolveRoot picks the cache root: environment override, then
// configuration, then the per-OS user cache directory. "buckle" is always
// appended so an override can point at a shared cache parent.
func ResolveRoot(envOverride, configOverride string) (string, error) {
	base := envOverride
	if base == "" {
		base = configOverride
	}
	if base == "" {
		base = xdg.CacheHome
	}
	if base == "" {
		return "", &CacheError{Op: "resolve root", Path: "", Err: errors.New("no user cache directory; set BUCKLE_CACHE")}
	}
	if strings.HasPrefix(base, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &CacheError{Op: "resolve root", Path: base, Err: err}
		}
		base = filepath.Join(home, base[2:])
	}
	return filepath.Join(base, "buckle"), nil
}

func (s *Store) entryDir(key Key) string {
	return filepath.Join(s.root, key.Tool, key.Hash)
}

// Lookup returns the published entry for key. Directories without a valid
// marker are treated as absent.
func (s *Store) Lookup(key Key) (*Entry, bool) {
	dir := s.entryDir(key)
	marker, err := readMarker(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Err(err).Str("dir", dir).Msg("ignoring cache entry without valid marker")
		}
		return nil, false
	}
	if marker.Key != key.Hash {
		s.logger.Debug().Str("dir", dir).Str("marker_key", marker.Key).Msg("ignoring cache entry with mismatched key")
		return nil, false
	}
	return &Entry{Key: key, Dir: dir, Marker: marker}, true
}

// BeginPopulate allocates a uniquely named staging directory for key.
func (s *Store) BeginPopulate(key Key) (*Staging, error) {
	parent := filepath.Join(s.root, stagingDirName)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &CacheError{Op: "create staging", Path: parent, Err: err}
	}

	dir := filepath.Join(parent, key.Tool+"-"+uuid.New().String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, &CacheError{Op: "create staging", Path: dir, Err: err}
	}
	if err := os.Mkdir(filepath.Join(dir, downloadDirName), 0o755); err != nil {
		os.RemoveAll(dir)
		return nil, &CacheError{Op: "create staging", Path: dir, Err: err}
	}

	return &Staging{Key: key, Dir: dir, store: s, active: true}, nil
}

// Publish makes the staging content visible under its key with one rename.
// If another process already published a valid entry, that entry wins and
// this staging directory is discarded. An invalid occupant is moved aside
// first.
func (s *Store) Publish(st *Staging, marker Marker) (*Entry, error) {
	if st == nil || !st.active || st.store != s {
		return nil, ErrNotStaged
	}

	if err := os.RemoveAll(st.DownloadDir()); err != nil {
		return nil, &CacheError{Op: "publish", Path: st.DownloadDir(), Err: err}
	}

	marker.Key = st.Key.Hash
	marker.Tool = st.Key.Tool
	marker.Version = st.Key.Version
	marker.Target = st.Key.Target
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = s.now().UTC()
	}
	if err := writeMarker(st.Dir, marker); err != nil {
		return nil, err
	}

	final := s.entryDir(st.Key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, &CacheError{Op: "publish", Path: final, Err: err}
	}

	err := os.Rename(st.Dir, final)
	if err == nil {
		st.active = false
		return &Entry{Key: st.Key, Dir: final, Marker: marker}, nil
	}

	if existing, ok := s.Lookup(st.Key); ok {
		s.logger.Debug().Str("key", st.Key.Hash).Msg("entry published concurrently, discarding ours")
		if derr := st.Discard(); derr != nil {
			s.logger.Debug().Err(derr).Msg("discard superseded staging")
		}
		return existing, nil
	}

	if _, statErr := os.Lstat(final); statErr != nil {
		return nil, &CacheError{Op: "publish", Path: final, Err: err}
	}

	if terr := s.moveToTrash(final); terr != nil {
		return nil, terr
	}
	if err := os.Rename(st.Dir, final); err != nil {
		if existing, ok := s.Lookup(st.Key); ok {
			st.Discard()
			return existing, nil
		}
		return nil, &CacheError{Op: "publish", Path: final, Err: err}
	}

	st.active = false
	return &Entry{Key: st.Key, Dir: final, Marker: marker}, nil
}

// Invalidate removes a published entry, e.g. when its executable turned out
// to be missing. The entry disappears from Lookup in one rename.
func (s *Store) Invalidate(entry *Entry) error {
	if entry == nil {
		return nil
	}
	return s.moveToTrash(entry.Dir)
}

func (s *Store) moveToTrash(dir string) error {
	trash := filepath.Join(s.root, trashDirName)
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return &CacheError{Op: "invalidate", Path: trash, Err: err}
	}

	target := filepath.Join(trash, uuid.New().String())
	if err := os.Rename(dir, target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &CacheError{Op: "invalidate", Path: dir, Err: err}
	}
	if err := os.RemoveAll(target); err != nil {
		s.logger.Debug().Err(err).Str("dir", target).Msg("could not empty trash")
	}
	return nil
}

// CleanStaging removes staging directories older than maxAge and anything
// left in the trash. It returns how many directories were removed.
func (s *Store) CleanStaging(maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := s.now().Add(-maxAge)

	for _, sub := range []string{stagingDirName, trashDirName} {
		parent := filepath.Join(s.root, sub)
		entries, err := os.ReadDir(parent)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, &CacheError{Op: "clean", Path: parent, Err: err}
		}

		for _, e := range entries {
			path := filepath.Join(parent, e.Name())
			if sub == stagingDirName && modifiedSince(path, cutoff) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				s.logger.Debug().Err(err).Str("dir", path).Msg("could not remove stale directory")
				continue
			}
			removed++
		}
	}

	return removed, nil
}

// modifiedSince reports whether anything under dir changed after cutoff.
// A download in progress only touches files deep inside its staging
// directory. Unreadable trees count as in use.
func modifiedSince(dir string, cutoff time.Time) bool {
	recent := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			recent = true
			return fs.SkipAll
		}
		return nil
	})
	return recent || err != nil
}

func readMarker(dir string) (Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("decode marker: %w", err)
	}
	return m, nil
}

func writeMarker(dir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &CacheError{Op: "write marker", Path: dir, Err: err}
	}

	path := filepath.Join(dir, MarkerFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &CacheError{Op: "write marker", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &CacheError{Op: "write marker", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &CacheError{Op: "write marker", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &CacheError{Op: "write marker", Path: path, Err: err}
	}
	return nil
}
