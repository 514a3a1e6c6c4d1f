package version

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// ResolutionError reports that no concrete version could be determined.
type ResolutionError struct {
	Spec   string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve version %q: %s: %v", e.Spec, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve version %q: %s", e.Spec, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver resolves version specs for one tool.
type Resolver struct {
	Tool     string
	Index    Index
	IndexURL string
	// Cache may be nil, in which case every "latest" hits the index.
	Cache  *LatestCache
	TTL    time.Duration
	Filter *regexp.Regexp
	Logger zerolog.Logger
	Now    func() time.Time
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultLatestTTL
}

// Resolve returns the concrete version for spec. A non-empty override
// replaces spec unconditionally. Literal tokens are returned without
// network access.
func (r *Resolver) Resolve(ctx context.Context, spec, override string) (Version, error) {
	if override != "" {
		spec = override
	}
	if spec == "" {
		spec = Latest
	}
	if spec != Latest {
		return Parse(spec), nil
	}
	return r.resolveLatest(ctx)
}

func (r *Resolver) resolveLatest(ctx context.Context) (Version, error) {
	var cached LatestEntry
	haveCached := false
	if r.Cache != nil {
		if entry, ok := r.Cache.Load(r.Tool); ok && entry.IndexURL == r.IndexURL {
			cached, haveCached = entry, true
			age := r.now().Sub(entry.FetchedAt)
			if age >= 0 && age < r.ttl() {
				r.Logger.Debug().Str("version", entry.Version).Dur("age", age).Msg("using cached latest")
				return Parse(entry.Version), nil
			}
		}
	}

	if r.Index == nil {
		return Version{}, &ResolutionError{Spec: Latest, Reason: "no release index configured"}
	}

	releases, err := r.Index.Releases(ctx)
	if err != nil {
		if haveCached && ctx.Err() == nil {
			r.Logger.Warn().
				Err(err).
				Str("version", cached.Version).
				Time("fetched_at", cached.FetchedAt).
				Msg("release index unreachable, using last known latest")
			return Parse(cached.Version), nil
		}
		return Version{}, &ResolutionError{Spec: Latest, Reason: "release index unreachable", Err: err}
	}

	best, ok := Max(r.eligible(releases))
	if !ok {
		return Version{}, &ResolutionError{Spec: Latest, Reason: "release index lists no eligible versions"}
	}

	if r.Cache != nil {
		entry := LatestEntry{Tool: r.Tool, Version: best.Raw, IndexURL: r.IndexURL, FetchedAt: r.now()}
		if err := r.Cache.Store(entry); err != nil {
			r.Logger.Debug().Err(err).Msg("could not store latest cache")
		}
	}

	r.Logger.Debug().Str("version", best.Raw).Int("candidates", len(releases)).Msg("resolved latest")
	return best, nil
}

// eligible drops drafts, the rolling "latest" tag and tags rejected by the
// filter, and records each survivor's index position.
func (r *Resolver) eligible(releases []Release) []Version {
	var out []Version
	for i, rel := range releases {
		if rel.Draft || rel.Tag == "" || rel.Tag == Latest {
			continue
		}
		if r.Filter != nil && !r.Filter.MatchString(rel.Tag) {
			continue
		}
		v := Parse(rel.Tag)
		v.position = i
		out = append(out, v)
	}
	return out
}
