package config

import (
	"fmt"
	"strings"
	"time"
)

// EffectiveConfig is the merged configuration of one invocation.
type EffectiveConfig struct {
	ToolName        string       `koanf:"tool_name"`
	Version         string       `koanf:"version"`
	BaseDownloadURL string       `koanf:"base_download_url"`
	ArchivePattern  string       `koanf:"archive_pattern"`
	PackageType     string       `koanf:"package_type"`
	CheckCompat     bool         `koanf:"check_compat"`
	StrictCompat    bool         `koanf:"strict_compat"`
	CompatArtifact  string       `koanf:"compat_artifact"`
	CompatPath      string       `koanf:"compat_path"`
	CacheDir        string       `koanf:"cache_dir"`
	Target          string       `koanf:"target"`
	GitHub          GitHub       `koanf:"github"`
	ReleaseIndex    ReleaseIndex `koanf:"release_index"`
	Verify          Verify       `koanf:"verify"`

	// Binaries come from the highest-priority source declaring them.
	Binaries []Binary `koanf:"-"`
	// BinariesOrdered is false when binaries were declared as a table keyed
	// by name, in which case there is no "first" binary.
	BinariesOrdered bool `koanf:"-"`
}

// GitHub names a repository whose releases host the tool.
type GitHub struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
}

// IsSet reports whether both owner and repo are present.
func (g GitHub) IsSet() bool {
	return g.Owner != "" && g.Repo != ""
}

// DownloadURL is the GitHub release download root.
func (g GitHub) DownloadURL() string {
	return fmt.Sprintf("https://github.com/%s/%s/releases/download", g.Owner, g.Repo)
}

// ReleasesURL is the GitHub releases API endpoint.
func (g GitHub) ReleasesURL() string {
	return fmt.Sprintf("https://api.github.com/repos/%s/%s/releases", g.Owner, g.Repo)
}

// ReleaseIndex configures "latest" resolution.
type ReleaseIndex struct {
	URL           string        `koanf:"url"`
	VersionFilter string        `koanf:"version_filter"`
	LatestTTL     time.Duration `koanf:"latest_ttl"`
}

// Verify configures optional archive verification. Patterns are templates
// that may use %archive% besides the usual placeholders.
type Verify struct {
	ChecksumPattern  string `koanf:"checksum_pattern"`
	SignaturePattern string `koanf:"signature_pattern"`
	Keyring          string `koanf:"keyring"`
}

// Binary is one executable provided by the tool archive.
type Binary struct {
	Name string `koanf:"name"`
	// Path is slash-separated and relative to the extracted archive root.
	Path string `koanf:"path"`
}

// BinaryNames lists declared binary names in declaration order.
func (c *EffectiveConfig) BinaryNames() []string {
	names := make([]string, len(c.Binaries))
	for i, b := range c.Binaries {
		names[i] = b.Name
	}
	return names
}

// FindBinary returns the declared binary called name.
func (c *EffectiveConfig) FindBinary(name string) (Binary, bool) {
	for _, b := range c.Binaries {
		if b.Name == name {
			return b, true
		}
	}
	return Binary{}, false
}

// ConfigError reports a configuration that cannot be used. It is always
// raised before any network access.
type ConfigError struct {
	// Source names the layer at fault, e.g. a file path or "BUCKLE_CONFIG".
	Source string
	// Field is the offending key, if any.
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Source != "" {
		b.WriteString(" in ")
		b.WriteString(e.Source)
	}
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
