package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ZebulonRouseFrantzich/buckle/internal/binary"
)

const (
	// DefaultPerPage is the page size requested from GitHub-style indexes.
	DefaultPerPage = 100
	// DefaultMaxPages bounds pagination.
	DefaultMaxPages = 10
	// DefaultIndexTimeout bounds a single index request.
	DefaultIndexTimeout = 30 * time.Second
)

// Release is one entry of an upstream release index.
type Release struct {
	Tag         string    `json:"tag_name"`
	Commitish   string    `json:"target_commitish,omitempty"`
	Draft       bool      `json:"draft,omitempty"`
	Prerelease  bool      `json:"prerelease,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Index enumerates available releases, newest first when the upstream
// provides an order.
type Index interface {
	Releases(ctx context.Context) ([]Release, error)
}

// StaticIndex is a fixed in-memory index.
type StaticIndex []Release

// Releases returns the fixed list.
func (s StaticIndex) Releases(ctx context.Context) ([]Release, error) {
	return s, nil
}

// ErrIndexStatus is wrapped by errors for non-success index responses.
var ErrIndexStatus = errors.New("release index returned non-success status")

// HTTPIndex reads a JSON release listing. It understands the GitHub
// releases API (paginated array of release objects) and a single-shot
// array of plain tag strings.
type HTTPIndex struct {
	URL       string
	Client    *http.Client
	UserAgent string
	Token     string
	PerPage   int
	MaxPages  int
	// Retries and InitialInterval bound retries of transport failures,
	// as for archive downloads.
	Retries         int
	InitialInterval time.Duration
}

// NewHTTPIndex creates an index reader with default paging and retries.
func NewHTTPIndex(indexURL string) *HTTPIndex {
	return &HTTPIndex{
		URL: indexURL,
		Client: &http.Client{
			Timeout: DefaultIndexTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return binary.CheckTransport(req.URL)
			},
		},
		PerPage:         DefaultPerPage,
		MaxPages:        DefaultMaxPages,
		Retries:         binary.DefaultRetries,
		InitialInterval: binary.DefaultInitialInterval,
	}
}

// Releases fetches pages until a short page, a page with no unseen tags,
// a Link header without rel="next", or MaxPages.
func (h *HTTPIndex) Releases(ctx context.Context) ([]Release, error) {
	perPage := h.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	maxPages := h.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var all []Release
	seen := make(map[string]bool)

	for n := 1; n <= maxPages; n++ {
		releases, hasNext, err := h.fetchPage(ctx, n, perPage)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, r := range releases {
			if seen[r.Tag] {
				continue
			}
			seen[r.Tag] = true
			all = append(all, r)
			added++
		}

		if len(releases) < perPage || added == 0 || !hasNext {
			break
		}
	}

	return all, nil
}

type page struct {
	releases []Release
	hasNext  bool
}

// fetchPage reads one page, retrying transport failures with exponential
// backoff. Status and decoding failures are permanent.
func (h *HTTPIndex) fetchPage(ctx context.Context, n, perPage int) ([]Release, bool, error) {
	u, err := url.Parse(h.URL)
	if err != nil {
		return nil, false, fmt.Errorf("parse index url: %w", err)
	}
	if err := binary.CheckTransport(u); err != nil {
		return nil, false, err
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = binary.DefaultInitialInterval
	}
	retries := h.Retries
	if retries < 0 {
		retries = 0
	}

	p, err := backoff.Retry(ctx, func() (page, error) {
		return h.fetchPageOnce(ctx, u.String())
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(retries+1)))
	if err != nil {
		return nil, false, err
	}
	return p.releases, p.hasNext, nil
}

func (h *HTTPIndex) fetchPageOnce(ctx context.Context, pageURL string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return page{}, transportError(ctx, fmt.Errorf("query release index: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return page{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrIndexStatus, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return page{}, transportError(ctx, fmt.Errorf("read release index: %w", err))
	}

	releases, err := decodeReleases(body)
	if err != nil {
		return page{}, backoff.Permanent(err)
	}

	hasNext := true
	if link := resp.Header.Get("Link"); link != "" {
		hasNext = strings.Contains(link, `rel="next"`)
	}
	return page{releases: releases, hasNext: hasNext}, nil
}

// transportError leaves err retryable unless ctx is done or a redirect
// was refused.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, binary.ErrInsecureURL) {
		return backoff.Permanent(err)
	}
	return err
}

// decodeReleases accepts an array whose items are either release objects
// or bare tag strings.
func decodeReleases(body []byte) ([]Release, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode release index: %w", err)
	}

	releases := make([]Release, 0, len(items))
	for i, item := range items {
		var tag string
		if err := json.Unmarshal(item, &tag); err == nil {
			releases = append(releases, Release{Tag: tag})
			continue
		}
		var r Release
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("decode release index entry %d: %w", i, err)
		}
		releases = append(releases, r)
	}
	return releases, nil
}
