package config

import (
	"github.com/pelletier/go-toml/v2"
)

// printView mirrors EffectiveConfig with TOML tags and a readable TTL.
type printView struct {
	ToolName        string        `toml:"tool_name"`
	Version         string        `toml:"version"`
	BaseDownloadURL string        `toml:"base_download_url"`
	ArchivePattern  string        `toml:"archive_pattern"`
	PackageType     string        `toml:"package_type"`
	CheckCompat     bool          `toml:"check_compat"`
	StrictCompat    bool          `toml:"strict_compat"`
	CompatArtifact  string        `toml:"compat_artifact,omitempty"`
	CompatPath      string        `toml:"compat_path,omitempty"`
	CacheDir        string        `toml:"cache_dir,omitempty"`
	Target          string        `toml:"target,omitempty"`
	GitHub          *printGitHub  `toml:"github,omitempty"`
	ReleaseIndex    printIndex    `toml:"release_index"`
	Verify          *printVerify  `toml:"verify,omitempty"`
	Binaries        []printBinary `toml:"binaries"`
}

type printGitHub struct {
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`
}

type printIndex struct {
	URL           string `toml:"url,omitempty"`
	VersionFilter string `toml:"version_filter,omitempty"`
	LatestTTL     string `toml:"latest_ttl"`
}

type printVerify struct {
	ChecksumPattern  string `toml:"checksum_pattern,omitempty"`
	SignaturePattern string `toml:"signature_pattern,omitempty"`
	Keyring          string `toml:"keyring,omitempty"`
}

type printBinary struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// MarshalTOML renders the effective configuration in the project file
// syntax, e.g. for --buckle-config. Version is the configured spec, before
// any environment override.
func (c *EffectiveConfig) MarshalTOML() ([]byte, error) {
	view := printView{
		ToolName:        c.ToolName,
		Version:         c.Version,
		BaseDownloadURL: c.BaseDownloadURL,
		ArchivePattern:  c.ArchivePattern,
		PackageType:     c.PackageType,
		CheckCompat:     c.CheckCompat,
		StrictCompat:    c.StrictCompat,
		CompatArtifact:  c.CompatArtifact,
		CompatPath:      c.CompatPath,
		CacheDir:        c.CacheDir,
		Target:          c.Target,
		ReleaseIndex: printIndex{
			URL:           c.ReleaseIndex.URL,
			VersionFilter: c.ReleaseIndex.VersionFilter,
			LatestTTL:     c.ReleaseIndex.LatestTTL.String(),
		},
	}
	if c.GitHub.IsSet() {
		view.GitHub = &printGitHub{Owner: c.GitHub.Owner, Repo: c.GitHub.Repo}
	}
	if c.Verify != (Verify{}) {
		view.Verify = &printVerify{
			ChecksumPattern:  c.Verify.ChecksumPattern,
			SignaturePattern: c.Verify.SignaturePattern,
			Keyring:          c.Verify.Keyring,
		}
	}
	for _, b := range c.Binaries {
		view.Binaries = append(view.Binaries, printBinary{Name: b.Name, Path: b.Path})
	}

	return toml.Marshal(view)
}
