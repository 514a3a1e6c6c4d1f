package config

import (
	"strings"
)

// LookupFunc reads one environment variable, like os.LookupEnv.
type LookupFunc func(string) (string, bool)

// Env is the subset of the process environment buckle reads. It is
// captured once by the entry point and passed down explicitly.
type Env struct {
	Version        string
	DownloadURL    string
	PreludeCheck   string
	PreludeStrict  string
	CacheDir       string
	Target         string
	InlineConfig   string
	ConfigFile     string
	Script         bool
	Binary         string
	NoExec         bool
	LogLevel       string
	GitHubToken    string
	inlineProvided bool
}

// ReadEnv captures the buckle environment through lookup.
func ReadEnv(lookup LookupFunc) Env {
	get := func(names ...string) string {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				return v
			}
		}
		return ""
	}

	inline, inlineSet := lookup(EnvConfig)
	return Env{
		Version:        strings.TrimSpace(get(EnvVersion, EnvLegacyVersion)),
		DownloadURL:    get(EnvDownloadURL),
		PreludeCheck:   get(EnvPreludeCheck),
		PreludeStrict:  get(EnvPreludeStrict),
		CacheDir:       get(EnvCache, EnvLegacyCache),
		Target:         get(EnvTarget),
		InlineConfig:   inline,
		ConfigFile:     get(EnvConfigFile),
		Script:         Truthy(get(EnvScript)),
		Binary:         get(EnvBinary),
		NoExec:         Truthy(get(EnvNoExec)),
		LogLevel:       get(EnvLog),
		GitHubToken:    get(EnvGitHubToken),
		inlineProvided: inlineSet && strings.TrimSpace(inline) != "",
	}
}

// Truthy interprets common spellings of an enabled flag.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

// overrides converts the field overrides into a flat koanf layer.
// BUCKLE_VERSION is not part of it; see Loaded.VersionOverride.
func (e Env) overrides() map[string]any {
	out := map[string]any{}
	if e.DownloadURL != "" {
		out[keyBaseDownloadURL] = e.DownloadURL
	}
	if strings.EqualFold(strings.TrimSpace(e.PreludeCheck), "no") {
		out[keyCheckCompat] = false
	}
	if e.PreludeStrict != "" {
		out[keyStrictCompat] = Truthy(e.PreludeStrict)
	}
	if e.CacheDir != "" {
		out[keyCacheDir] = e.CacheDir
	}
	if e.Target != "" {
		out[keyTarget] = e.Target
	}
	return out
}
