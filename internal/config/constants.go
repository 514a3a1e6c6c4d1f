package config

import "time"

// Project markers and file names.
const (
	BuckRootFile    = ".buckroot"
	BuckConfigFile  = ".buckconfig"
	VersionFile     = ".buckversion"
	ProjectFileBase = ".buckleconfig"
)

// projectFileNames are tried in order in every directory.
var projectFileNames = []string{
	ProjectFileBase + ".toml",
	ProjectFileBase + ".yaml",
	ProjectFileBase + ".yml",
	ProjectFileBase + ".lua",
}

// Environment variables.
const (
	EnvVersion       = "BUCKLE_VERSION"
	EnvLegacyVersion = "USE_BUCK2_VERSION"
	EnvDownloadURL   = "BUCKLE_DOWNLOAD_URL"
	EnvPreludeCheck  = "BUCKLE_PRELUDE_CHECK"
	EnvPreludeStrict = "BUCKLE_PRELUDE_STRICT"
	EnvCache         = "BUCKLE_CACHE"
	EnvLegacyCache   = "BUCKLE_HOME"
	EnvTarget        = "BUCKLE_TARGET"
	EnvConfig        = "BUCKLE_CONFIG"
	EnvConfigFile    = "BUCKLE_CONFIG_FILE"
	EnvScript        = "BUCKLE_SCRIPT"
	EnvBinary        = "BUCKLE_BINARY"
	EnvNoExec        = "BUCKLE_NO_EXEC"
	EnvLog           = "BUCKLE_LOG"
	EnvGitHubToken   = "GITHUB_TOKEN"
)

// Built-in defaults.
const (
	DefaultToolName       = "buck2"
	DefaultVersion        = "latest"
	DefaultGitHubOwner    = "facebook"
	DefaultGitHubRepo     = "buck2"
	DefaultArchivePattern = "buck2-%target%.zst"
	DefaultPackageType    = "zstd_single_file"
	DefaultCompatArtifact = "prelude_hash"
	DefaultLatestTTL      = 5 * time.Minute
)

// Configuration keys.
const (
	keyToolName         = "tool_name"
	keyVersion          = "version"
	keyBaseDownloadURL  = "base_download_url"
	keyArchivePattern   = "archive_pattern"
	keyPackageType      = "package_type"
	keyCheckCompat      = "check_compat"
	keyStrictCompat     = "strict_compat"
	keyCompatArtifact   = "compat_artifact"
	keyCompatPath       = "compat_path"
	keyCacheDir         = "cache_dir"
	keyTarget           = "target"
	keyBinaries         = "binaries"
	keyReleaseIndexTTL  = "release_index.latest_ttl"
	keyBinaryName       = "name"
	keyBinaryPath       = "path"
	keyBinaryProvidedBy = "provided_by"
)

// Resource limits for project files.
const (
	// MaxConfigSize bounds any configuration file or inline payload.
	MaxConfigSize = 1 << 20
	// LuaTimeout bounds evaluation of a Lua project file.
	LuaTimeout = 5 * time.Second
	// MaxBinaries bounds the number of declared binaries.
	MaxBinaries = 256
)
