// Package config builds the single EffectiveConfig of one invocation from
// layered sources.
//
// # Sources
//
// From lowest to highest priority:
//   - built-in defaults (buck2 from the facebook/buck2 GitHub releases)
//   - the .buckversion pin file in the project root
//   - the nearest .buckleconfig.toml, .buckleconfig.yaml/.yml or .buckleconfig.lua
//   - the file named by BUCKLE_CONFIG_FILE
//   - inline TOML in BUCKLE_CONFIG
//   - single-field environment overrides (BUCKLE_DOWNLOAD_URL, BUCKLE_CACHE, ...)
//
// Layers are merged field by field with koanf, so a field set by a higher
// layer is never overwritten by a lower one. The binaries list is the one
// exception: the highest layer declaring it wins wholesale.
//
// BUCKLE_VERSION is not merged. It is returned as Loaded.VersionOverride
// and handed to the version resolver, which gives it precedence over any
// configured version.
//
// # Lua project files
//
// A .buckleconfig.lua file defines a global "buckle" table with the same
// keys as the TOML form. It runs in a sandboxed gopher-lua VM with only
// the base, string, table and math libraries and a read-only "platform"
// table describing the host:
//
//	buckle = {
//	    version = platform.is_windows and "2024-08-01" or "latest",
//	    binaries = {
//	        { name = "buck2", path = "buck2" },
//	        platform.when(platform.is_linux, { name = "rust-project", path = "rust-project" }),
//	    },
//	}
//
// # Validation
//
// Every problem is reported as a *ConfigError before any network access:
// missing explicit files, parse failures, an empty tool name, declared but
// empty binaries, duplicate or unnamed binaries, malformed patterns, an
// invalid version filter, an unknown package type and download URLs that
// are not absolute HTTPS URLs (plain HTTP is accepted for loopback hosts).
package config
