package config

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/buckle/internal/binary"
	"github.com/ZebulonRouseFrantzich/buckle/internal/template"
)

// LoadOptions are the inputs of Load. Only the entry point reads the real
// environment and working directory; everything arrives here explicitly.
type LoadOptions struct {
	WorkDir string
	Env     Env
	Host    *HostInfo
	Logger  zerolog.Logger
}

// Loaded is the outcome of Load.
type Loaded struct {
	Config *EffectiveConfig
	// VersionOverride comes from BUCKLE_VERSION (or USE_BUCK2_VERSION) and
	// takes precedence over Config.Version unconditionally.
	VersionOverride string
	Project         Project
	// Layers names every source that contributed, lowest priority first.
	Layers []string
}

// layer is one configuration source.
type layer struct {
	name string
	data map[string]any
	// flat layers use dotted keys ("release_index.latest_ttl").
	flat bool
}

// Load discovers the project, reads every source and merges them into one
// EffectiveConfig. No network access happens here.
func Load(ctx context.Context, opts LoadOptions) (*Loaded, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}

	project, err := Discover(workDir)
	if err != nil {
		return nil, &ConfigError{Message: "cannot inspect working directory", Err: err}
	}

	layers := []layer{{name: "defaults", data: defaults()}}

	if project.VersionFile != "" {
		v, err := ReadVersionFile(project.VersionFile)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer{name: project.VersionFile, data: map[string]any{keyVersion: v}})
	}

	if project.ConfigFile != "" {
		data, err := ParseFile(ctx, project.ConfigFile, opts.Host)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer{name: project.ConfigFile, data: data})
	}

	if opts.Env.ConfigFile != "" {
		p := opts.Env.ConfigFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(workDir, p)
		}
		data, err := ParseFile(ctx, p, opts.Host)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer{name: p, data: data})
	}

	if opts.Env.inlineProvided {
		data, err := ParseBytes(ctx, []byte(opts.Env.InlineConfig), FormatTOML, EnvConfig, opts.Host)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer{name: EnvConfig, data: data})
	}

	if overrides := opts.Env.overrides(); len(overrides) > 0 {
		layers = append(layers, layer{name: "environment", data: overrides, flat: true})
	}

	cfg, err := merge(layers, opts.Logger)
	if err != nil {
		return nil, err
	}

	if err := finalize(cfg, project, workDir); err != nil {
		return nil, err
	}

	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.name
	}

	return &Loaded{
		Config:          cfg,
		VersionOverride: opts.Env.Version,
		Project:         project,
		Layers:          names,
	}, nil
}

func defaults() map[string]any {
	return map[string]any{
		keyToolName:    DefaultToolName,
		keyVersion:     DefaultVersion,
		keyCheckCompat: true,
		"release_index": map[string]any{
			"latest_ttl": DefaultLatestTTL.String(),
		},
	}
}

// merge layers field by field with koanf. Binaries are the exception: the
// highest layer that declares them wins wholesale.
func merge(layers []layer, logger zerolog.Logger) (*EffectiveConfig, error) {
	k := koanf.New(".")

	var (
		binariesRaw    any
		binariesSource string
		binariesSet    bool
	)

	for _, l := range layers {
		data := make(map[string]any, len(l.data))
		for key, value := range l.data {
			if key == keyBinaries {
				binariesRaw, binariesSource, binariesSet = value, l.name, true
				continue
			}
			data[key] = value
		}

		delim := ""
		if l.flat {
			delim = "."
		}
		if err := k.Load(confmap.Provider(data, delim), nil); err != nil {
			return nil, &ConfigError{Source: l.name, Message: "cannot merge", Err: err}
		}
	}

	cfg := &EffectiveConfig{}
	md := &mapstructure.Metadata{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringerHook,
			),
			Metadata:         md,
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, &ConfigError{Message: "cannot decode merged configuration", Err: err}
	}

	for _, key := range md.Unused {
		logger.Warn().Str("key", key).Msg("ignoring unknown configuration key")
	}

	if binariesSet {
		binaries, ordered, err := decodeBinaries(binariesRaw)
		if err != nil {
			return nil, &ConfigError{Source: binariesSource, Field: keyBinaries, Message: err.Error()}
		}
		if len(binaries) == 0 {
			return nil, &ConfigError{Source: binariesSource, Field: keyBinaries, Message: "binaries declared but empty"}
		}
		cfg.Binaries = binaries
		cfg.BinariesOrdered = ordered
	}

	return cfg, nil
}

// decodeBinaries accepts an ordered array of {name, path} tables or a table
// keyed by binary name. provided_by is an alias of path.
func decodeBinaries(raw any) ([]Binary, bool, error) {
	switch v := raw.(type) {
	case []any:
		out := make([]Binary, 0, len(v))
		for i, item := range v {
			b, err := decodeBinary("", item)
			if err != nil {
				return nil, false, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, b)
		}
		return out, true, nil

	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]Binary, 0, len(v))
		for _, name := range names {
			b, err := decodeBinary(name, v[name])
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", name, err)
			}
			out = append(out, b)
		}
		return out, false, nil

	case nil:
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("expected an array or a table, got %T", raw)
	}
}

func decodeBinary(name string, raw any) (Binary, error) {
	b := Binary{Name: name}
	switch v := raw.(type) {
	case string:
		if name == "" {
			b.Name = v
		} else {
			b.Path = v
		}
	case map[string]any:
		for key, value := range v {
			s, ok := value.(string)
			if !ok {
				return Binary{}, fmt.Errorf("%s must be a string", key)
			}
			switch key {
			case keyBinaryName:
				if name != "" && s != name {
					return Binary{}, fmt.Errorf("name %q does not match table key", s)
				}
				b.Name = s
			case keyBinaryPath, keyBinaryProvidedBy:
				if b.Path != "" && b.Path != s {
					return Binary{}, fmt.Errorf("both path and provided_by given")
				}
				b.Path = s
			default:
				return Binary{}, fmt.Errorf("unknown field %q", key)
			}
		}
	default:
		return Binary{}, fmt.Errorf("expected a table, got %T", raw)
	}
	return b, nil
}

// finalize applies tool defaults, fills derived fields and validates.
func finalize(cfg *EffectiveConfig, project Project, workDir string) error {
	cfg.ToolName = strings.TrimSpace(cfg.ToolName)
	if cfg.ToolName == "" {
		return &ConfigError{Field: keyToolName, Message: "tool_name must not be empty"}
	}
	// Names starting with "." are reserved for the cache's own directories.
	if strings.ContainsAny(cfg.ToolName, `/\`) || strings.HasPrefix(cfg.ToolName, ".") {
		return &ConfigError{Field: keyToolName, Message: fmt.Sprintf("invalid tool name %q", cfg.ToolName)}
	}

	cfg.Version = strings.TrimSpace(cfg.Version)
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	if cfg.ToolName == DefaultToolName {
		if cfg.GitHub.Owner == "" && cfg.GitHub.Repo == "" {
			cfg.GitHub = GitHub{Owner: DefaultGitHubOwner, Repo: DefaultGitHubRepo}
		}
		if cfg.ArchivePattern == "" {
			cfg.ArchivePattern = DefaultArchivePattern
		}
		if cfg.PackageType == "" {
			cfg.PackageType = DefaultPackageType
		}
		if cfg.CompatArtifact == "" {
			cfg.CompatArtifact = DefaultCompatArtifact
		}
	}

	if (cfg.GitHub.Owner == "") != (cfg.GitHub.Repo == "") {
		return &ConfigError{Field: "github", Message: "github.owner and github.repo must be set together"}
	}
	if cfg.GitHub.IsSet() {
		if cfg.BaseDownloadURL == "" {
			cfg.BaseDownloadURL = cfg.GitHub.DownloadURL()
		}
		if cfg.ReleaseIndex.URL == "" {
			cfg.ReleaseIndex.URL = cfg.GitHub.ReleasesURL()
		}
	}

	if cfg.BaseDownloadURL == "" {
		return &ConfigError{Field: keyBaseDownloadURL, Message: "base_download_url or github.owner/github.repo is required"}
	}
	cfg.BaseDownloadURL = strings.TrimRight(cfg.BaseDownloadURL, "/")
	if err := validateURL(cfg.BaseDownloadURL); err != nil {
		return &ConfigError{Field: keyBaseDownloadURL, Message: err.Error()}
	}
	if cfg.ReleaseIndex.URL != "" {
		if err := validateURL(cfg.ReleaseIndex.URL); err != nil {
			return &ConfigError{Field: "release_index.url", Message: err.Error()}
		}
	}

	if cfg.ArchivePattern == "" {
		return &ConfigError{Field: keyArchivePattern, Message: "archive_pattern is required"}
	}
	for field, pattern := range map[string]string{
		keyArchivePattern:          cfg.ArchivePattern,
		"verify.checksum_pattern":  cfg.Verify.ChecksumPattern,
		"verify.signature_pattern": cfg.Verify.SignaturePattern,
	} {
		if err := template.Validate(pattern); err != nil {
			return &ConfigError{Field: field, Message: "malformed pattern", Err: err}
		}
	}

	if cfg.PackageType == "" {
		cfg.PackageType = string(binary.InferPackageType(cfg.ArchivePattern))
	}
	if !binary.PackageType(cfg.PackageType).Valid() {
		return &ConfigError{Field: keyPackageType, Message: fmt.Sprintf("unknown package type %q", cfg.PackageType)}
	}

	if cfg.ReleaseIndex.VersionFilter != "" {
		if _, err := regexp.Compile(cfg.ReleaseIndex.VersionFilter); err != nil {
			return &ConfigError{Field: "release_index.version_filter", Message: "invalid regular expression", Err: err}
		}
	}
	if cfg.ReleaseIndex.LatestTTL < 0 {
		return &ConfigError{Field: keyReleaseIndexTTL, Message: "latest_ttl must not be negative"}
	}
	if cfg.ReleaseIndex.LatestTTL == 0 {
		cfg.ReleaseIndex.LatestTTL = DefaultLatestTTL
	}

	if cfg.Verify.SignaturePattern != "" && cfg.Verify.Keyring == "" {
		return &ConfigError{Field: "verify.keyring", Message: "signature_pattern needs a keyring"}
	}
	base := project.Root
	if base == "" {
		base = workDir
	}
	if cfg.Verify.Keyring != "" && !filepath.IsAbs(cfg.Verify.Keyring) {
		cfg.Verify.Keyring = filepath.Join(base, filepath.FromSlash(cfg.Verify.Keyring))
	}
	if cfg.CompatPath != "" && !filepath.IsAbs(cfg.CompatPath) {
		cfg.CompatPath = filepath.Join(base, filepath.FromSlash(cfg.CompatPath))
	}

	if len(cfg.Binaries) == 0 {
		cfg.Binaries = []Binary{{Name: cfg.ToolName, Path: cfg.ToolName}}
		cfg.BinariesOrdered = true
	}
	return validateBinaries(cfg.Binaries)
}

func validateBinaries(binaries []Binary) error {
	if len(binaries) > MaxBinaries {
		return &ConfigError{Field: keyBinaries, Message: fmt.Sprintf("too many binaries (%d), maximum is %d", len(binaries), MaxBinaries)}
	}

	seen := make(map[string]bool, len(binaries))
	for i := range binaries {
		b := &binaries[i]
		field := fmt.Sprintf("binaries[%d]", i)
		if strings.TrimSpace(b.Name) == "" {
			return &ConfigError{Field: field, Message: "binary name must not be empty"}
		}
		if seen[b.Name] {
			return &ConfigError{Field: field, Message: fmt.Sprintf("duplicate binary %q", b.Name)}
		}
		seen[b.Name] = true

		if b.Path == "" {
			b.Path = b.Name
		}
		cleaned := path.Clean(filepath.ToSlash(b.Path))
		if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return &ConfigError{Field: field, Message: fmt.Sprintf("binary path %q must stay inside the archive", b.Path)}
		}
		b.Path = cleaned
	}
	return nil
}

// validateURL requires an absolute URL over HTTPS, or plain HTTP to a
// loopback host.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return binary.CheckTransport(u)
}

// stringerHook lets values such as TOML dates (version = 2024-09-02) decode
// into string fields.
func stringerHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if s, ok := data.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return data, nil
}
