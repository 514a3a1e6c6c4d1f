package pipeline

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/buckle/internal/binary"
	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
	"github.com/ZebulonRouseFrantzich/buckle/internal/compat"
	"github.com/ZebulonRouseFrantzich/buckle/internal/config"
	"github.com/ZebulonRouseFrantzich/buckle/internal/launcher"
	"github.com/ZebulonRouseFrantzich/buckle/internal/platform"
	"github.com/ZebulonRouseFrantzich/buckle/internal/template"
	"github.com/ZebulonRouseFrantzich/buckle/internal/version"
)

// Options are the process-level inputs. The entry point reads the real
// environment and working directory; nothing below it does.
type Options struct {
	WorkDir string
	Env     config.Env
	// Argv0 is the name buckle was invoked under.
	Argv0 string
	// UserAgent is sent with every request, e.g. "buckle/1.2.0".
	UserAgent string
	// Detector defaults to platform.NewDetector().
	Detector platform.Detector
	Logger   zerolog.Logger
}

// Prepared is everything known once the executable is ready to launch.
type Prepared struct {
	Loaded     *config.Loaded
	Triple     platform.Triple
	Version    version.Version
	Archive    string
	URL        string
	Entry      *cache.Entry
	Fetched    bool
	Binary     config.Binary
	Executable string
	Compat     compat.Result
}

// Pipeline runs one invocation: configuration, version resolution,
// materialization, compatibility check and launch.
type Pipeline struct {
	opts     Options
	logger   zerolog.Logger
	fetcher  *binary.Fetcher
	launcher *launcher.Launcher
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Detector == nil {
		opts.Detector = platform.NewDetector()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "buckle"
	}

	fetcher := binary.NewFetcher(opts.UserAgent)
	fetcher.Logger = opts.Logger

	return &Pipeline{
		opts:     opts,
		logger:   opts.Logger,
		fetcher:  fetcher,
		launcher: launcher.New(opts.Env.NoExec, opts.Logger),
	}
}

// Load detects the host and loads the effective configuration. It never
// touches the network.
func (p *Pipeline) Load(ctx context.Context) (*config.Loaded, platform.Triple, error) {
	info, err := p.opts.Detector.Detect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, platform.Triple{}, ctx.Err()
		}
		p.logger.Debug().Err(err).Msg("host detection failed")
		info = &platform.Info{OS: runtime.GOOS, ArchRaw: runtime.GOARCH}
	}

	host, hostErr := platform.HostTriple(info)
	if hostErr != nil {
		host = platform.Triple{Arch: info.ArchRaw, OS: info.OS}
	}

	loaded, err := config.Load(ctx, config.LoadOptions{
		WorkDir: p.opts.WorkDir,
		Env:     p.opts.Env,
		Host:    &config.HostInfo{Info: info, Triple: host},
		Logger:  p.logger,
	})
	if err != nil {
		return nil, platform.Triple{}, err
	}

	triple := platform.OverrideTarget(host, loaded.Config.Target)
	if triple.Target == "" {
		return nil, platform.Triple{}, &config.ConfigError{Field: "target", Message: "unsupported host platform; set target or BUCKLE_TARGET", Err: hostErr}
	}

	p.logger.Debug().
		Str("os", info.OS).
		Str("arch", info.Arch).
		Str("distro", info.Platform).
		Str("target", triple.Target).
		Strs("layers", loaded.Layers).
		Msg("configuration loaded")
	return loaded, triple, nil
}

// Prepare resolves, materializes and checks the executable without
// launching it.
func (p *Pipeline) Prepare(ctx context.Context) (*Prepared, error) {
	loaded, triple, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	binaryDecl, err := launcher.Select(cfg, p.opts.Env.Binary, p.opts.Argv0)
	if err != nil {
		return nil, err
	}

	root, err := cache.ResolveRoot(p.opts.Env.CacheDir, cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	store := cache.NewStore(root, p.logger)

	v, err := p.resolve(ctx, loaded, root)
	if err != nil {
		return nil, err
	}

	vars := template.Vars{Version: v.Raw, Target: triple.Target, Arch: triple.Arch, OS: triple.OS}
	archive := template.Expand(cfg.ArchivePattern, vars)
	if missing := template.Unresolved(archive); len(missing) > 0 {
		p.logger.Warn().Strs("placeholders", missing).Str("archive", archive).Msg("archive name has unresolved placeholders")
	}

	req := binary.Request{
		Key:         cache.NewKey(cfg.ToolName, v.Raw, triple.Target),
		URL:         releaseURL(cfg.BaseDownloadURL, v.Raw, archive),
		ArchiveName: archive,
		PackageType: binary.PackageType(cfg.PackageType),
		BinaryPath:  cfg.Binaries[0].Path,
		KeyringPath: cfg.Verify.Keyring,
	}
	withArchive := vars
	withArchive.Extra = map[string]string{"archive": archive}
	if cfg.Verify.ChecksumPattern != "" {
		req.ChecksumURL = releaseURL(cfg.BaseDownloadURL, v.Raw, template.Expand(cfg.Verify.ChecksumPattern, withArchive))
	}
	if cfg.Verify.SignaturePattern != "" {
		req.SignatureURL = releaseURL(cfg.BaseDownloadURL, v.Raw, template.Expand(cfg.Verify.SignaturePattern, withArchive))
	}

	materializer := binary.NewMaterializer(p.fetcher, p.logger)
	entry, fetched, err := materializer.Materialize(ctx, store, req)
	if err != nil {
		return nil, err
	}

	executable := entry.Path(binaryDecl.Path)
	if err := launcher.CheckExecutable(binaryDecl.Name, executable); err != nil {
		p.logger.Warn().Err(err).Str("entry", entry.Dir).Msg("cache entry is unusable, fetching it again")
		if ierr := store.Invalidate(entry); ierr != nil {
			return nil, ierr
		}
		entry, fetched, err = materializer.Materialize(ctx, store, req)
		if err != nil {
			return nil, err
		}
		executable = entry.Path(binaryDecl.Path)
		if err := launcher.CheckExecutable(binaryDecl.Name, executable); err != nil {
			return nil, err
		}
	}

	prepared := &Prepared{
		Loaded:     loaded,
		Triple:     triple,
		Version:    v,
		Archive:    archive,
		URL:        req.URL,
		Entry:      entry,
		Fetched:    fetched,
		Binary:     binaryDecl,
		Executable: executable,
	}

	result, err := p.checkCompat(ctx, loaded, v)
	prepared.Compat = result
	if err != nil {
		return prepared, err
	}
	return prepared, nil
}

// Run prepares the executable and launches it with args. The returned
// code is the launched binary's own unless err is non-nil.
func (p *Pipeline) Run(ctx context.Context, args []string) (int, error) {
	prepCtx, stop := Interruptible(ctx)
	prepared, err := p.Prepare(prepCtx)
	stop()
	if err != nil {
		return 0, err
	}
	return p.launcher.Launch(ctx, prepared.Executable, args)
}

// Interruptible returns a context cancelled by SIGINT or SIGTERM. It
// covers work before launch only: once the tool runs, signals are
// forwarded to it instead.
func Interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func (p *Pipeline) resolve(ctx context.Context, loaded *config.Loaded, cacheRoot string) (version.Version, error) {
	cfg := loaded.Config

	resolver := &version.Resolver{
		Tool:     cfg.ToolName,
		IndexURL: cfg.ReleaseIndex.URL,
		Cache:    version.NewLatestCache(cacheRoot),
		TTL:      cfg.ReleaseIndex.LatestTTL,
		Logger:   p.logger,
	}
	if cfg.ReleaseIndex.URL != "" {
		index := version.NewHTTPIndex(cfg.ReleaseIndex.URL)
		index.UserAgent = p.opts.UserAgent
		index.Token = indexToken(cfg.ReleaseIndex.URL, p.opts.Env.GitHubToken)
		resolver.Index = index
	}
	if cfg.ReleaseIndex.VersionFilter != "" {
		filter, err := regexp.Compile(cfg.ReleaseIndex.VersionFilter)
		if err != nil {
			return version.Version{}, &config.ConfigError{Field: "release_index.version_filter", Message: "invalid regular expression", Err: err}
		}
		resolver.Filter = filter
	}

	v, err := resolver.Resolve(ctx, cfg.Version, loaded.VersionOverride)
	if err != nil {
		return version.Version{}, err
	}
	p.logger.Debug().Str("spec", cfg.Version).Str("override", loaded.VersionOverride).Str("version", v.Raw).Msg("version resolved")
	return v, nil
}

func (p *Pipeline) checkCompat(ctx context.Context, loaded *config.Loaded, v version.Version) (compat.Result, error) {
	cfg := loaded.Config
	if !cfg.CheckCompat || cfg.CompatArtifact == "" {
		return compat.Result{}, nil
	}

	path := cfg.CompatPath
	if path == "" {
		path = config.PreludePath(loaded.Project.Root)
	}
	if path == "" {
		p.logger.Debug().Msg("no prelude checkout configured, skipping compatibility check")
		return compat.Result{}, nil
	}

	validator := compat.NewValidator(p.fetcher, cfg.StrictCompat, p.logger)
	return validator.Run(ctx, compat.Check{
		Tool:        cfg.ToolName,
		Version:     v.Raw,
		ArtifactURL: compat.ArtifactURL(cfg.BaseDownloadURL, v.Raw, cfg.CompatArtifact),
		Local:       compat.NewCheckout(path),
	})
}

// releaseURL places name under {base}/{version}/ unless it already is an
// absolute URL.
func releaseURL(base, version, name string) string {
	if strings.Contains(name, "://") {
		return name
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(version) + "/" + name
}

// indexToken returns token only for the GitHub API host.
func indexToken(indexURL, token string) string {
	u, err := url.Parse(indexURL)
	if err != nil || token == "" {
		return ""
	}
	if strings.EqualFold(u.Hostname(), "api.github.com") {
		return token
	}
	return ""
}
