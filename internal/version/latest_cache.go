package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	latestCacheFile = "latest.json"
	// DefaultLatestTTL is how long a resolved "latest" is reused without
	// asking the index again.
	DefaultLatestTTL = 5 * time.Minute
)

// LatestEntry records the last successful "latest" resolution.
type LatestEntry struct {
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	IndexURL  string    `json:"index_url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// LatestCache stores LatestEntry values under <dir>/<tool>/latest.json.
type LatestCache struct {
	dir string
}

// NewLatestCache creates a cache rooted at dir.
func NewLatestCache(dir string) *LatestCache {
	return &LatestCache{dir: dir}
}

func (c *LatestCache) path(tool string) string {
	return filepath.Join(c.dir, tool, latestCacheFile)
}

// Load returns the stored entry for tool. Missing or unreadable files
// report false.
func (c *LatestCache) Load(tool string) (LatestEntry, bool) {
	data, err := os.ReadFile(c.path(tool))
	if err != nil {
		return LatestEntry{}, false
	}
	var entry LatestEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Version == "" {
		return LatestEntry{}, false
	}
	return entry, true
}

// Store writes entry through a temp file and rename so concurrent readers
// never see a torn file.
func (c *LatestCache) Store(entry LatestEntry) error {
	path := c.path(entry.Tool)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create latest cache dir: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode latest cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), latestCacheFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write latest cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
