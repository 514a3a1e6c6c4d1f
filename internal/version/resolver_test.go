package version

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/buckle/internal/binary"
)

// countingIndex records how often it is queried.
type countingIndex struct {
	releases []Release
	err      error
	calls    atomic.Int32
}

func (c *countingIndex) Releases(ctx context.Context) ([]Release, error) {
	c.calls.Add(1)
	return c.releases, c.err
}

func TestResolver_LatestPicksMaximum(t *testing.T) {
	index := &countingIndex{releases: []Release{
		{Tag: "latest"},
		{Tag: "2024-08-01"},
		{Tag: "2024-09-02"},
		{Tag: "2024-10-01", Draft: true},
	}}
	r := &Resolver{Tool: "buck2", Index: index}

	v, err := r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-02", v.Raw)
	assert.EqualValues(t, 1, index.calls.Load())
}

func TestResolver_LatestIsMaximumForAnyOrder(t *testing.T) {
	tags := []string{"2021-01-01", "2022-06-30", "2023-03-15", "2024-11-11", "2024-02-29"}
	for shift := range tags {
		var releases []Release
		for i := range tags {
			releases = append(releases, Release{Tag: tags[(i+shift)%len(tags)]})
		}
		r := &Resolver{Tool: "tool", Index: StaticIndex(releases)}
		v, err := r.Resolve(context.Background(), Latest, "")
		require.NoError(t, err)
		assert.Equal(t, "2024-11-11", v.Raw, "rotation %d", shift)
	}
}

func TestResolver_LiteralSkipsIndex(t *testing.T) {
	index := &countingIndex{err: errors.New("offline")}
	r := &Resolver{Tool: "buck2", Index: index}

	v, err := r.Resolve(context.Background(), "2023-07-15", "")
	require.NoError(t, err)
	assert.Equal(t, "2023-07-15", v.Raw)
	assert.Zero(t, index.calls.Load())
}

func TestResolver_OverrideWins(t *testing.T) {
	index := &countingIndex{releases: []Release{{Tag: "2024-09-02"}}}
	r := &Resolver{Tool: "buck2", Index: index}

	v, err := r.Resolve(context.Background(), Latest, "2023-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01", v.Raw)
	assert.Zero(t, index.calls.Load())
}

func TestResolver_Filter(t *testing.T) {
	index := StaticIndex{{Tag: "7.1.0"}, {Tag: "7.0.0-pre.20230823.4"}, {Tag: "6.4.0"}}
	r := &Resolver{Tool: "bazel", Index: index, Filter: regexp.MustCompile(`^7\.0\.0-pre\.[0-9.]+$`)}

	v, err := r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	assert.Equal(t, "7.0.0-pre.20230823.4", v.Raw)
}

func TestResolver_NoEligibleVersions(t *testing.T) {
	r := &Resolver{Tool: "buck2", Index: StaticIndex{{Tag: "latest"}}}

	_, err := r.Resolve(context.Background(), Latest, "")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Reason, "no eligible versions")
}

func TestResolver_IndexUnreachableWithoutCache(t *testing.T) {
	r := &Resolver{Tool: "buck2", Index: &countingIndex{err: errors.New("dial tcp: no route")}}

	_, err := r.Resolve(context.Background(), Latest, "")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "no route")
}

func TestResolver_LatestCacheWindow(t *testing.T) {
	now := time.Date(2024, 9, 3, 12, 0, 0, 0, time.UTC)
	cache := NewLatestCache(t.TempDir())
	index := &countingIndex{releases: []Release{{Tag: "2024-09-02"}}}
	r := &Resolver{
		Tool:     "buck2",
		Index:    index,
		IndexURL: "https://example.invalid/releases",
		Cache:    cache,
		TTL:      time.Minute,
		Now:      func() time.Time { return now },
	}

	_, err := r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, index.calls.Load())

	// Inside the window: served from the cache.
	now = now.Add(30 * time.Second)
	v, err := r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-02", v.Raw)
	assert.EqualValues(t, 1, index.calls.Load())

	// Past the window: the index is asked again and a newer release wins.
	now = now.Add(time.Minute)
	index.releases = append(index.releases, Release{Tag: "2024-09-10"})
	v, err = r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-10", v.Raw)
	assert.EqualValues(t, 2, index.calls.Load())
}

func TestResolver_StaleCacheUsedWhenIndexDown(t *testing.T) {
	cache := NewLatestCache(t.TempDir())
	require.NoError(t, cache.Store(LatestEntry{
		Tool:      "buck2",
		Version:   "2024-08-01",
		IndexURL:  "u",
		FetchedAt: time.Now().Add(-48 * time.Hour),
	}))

	index := &countingIndex{err: errors.New("offline")}
	r := &Resolver{Tool: "buck2", Index: index, IndexURL: "u", Cache: cache}

	v, err := r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-08-01", v.Raw)
	assert.EqualValues(t, 1, index.calls.Load())
}

func TestResolver_CacheForDifferentIndexIgnored(t *testing.T) {
	cache := NewLatestCache(t.TempDir())
	require.NoError(t, cache.Store(LatestEntry{Tool: "buck2", Version: "2020-01-01", IndexURL: "old", FetchedAt: time.Now()}))

	r := &Resolver{Tool: "buck2", Index: StaticIndex{{Tag: "2024-09-02"}}, IndexURL: "new", Cache: cache}
	v, err := r.Resolve(context.Background(), Latest, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-02", v.Raw)
}

func TestHTTPIndex_Pagination(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "buckle-test", r.Header.Get("User-Agent"))
		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("Link", `<x?page=2>; rel="next"`)
			fmt.Fprint(w, `[{"tag_name":"2024-09-02"},{"tag_name":"2024-08-01"}]`)
		case "2":
			fmt.Fprint(w, `[{"tag_name":"2024-07-01","draft":true}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer server.Close()

	index := NewHTTPIndex(server.URL + "/repos/facebook/buck2/releases")
	index.PerPage = 2
	index.UserAgent = "buckle-test"

	releases, err := index.Releases(context.Background())
	require.NoError(t, err)
	require.Len(t, releases, 3)
	assert.Equal(t, "2024-09-02", releases[0].Tag)
	assert.True(t, releases[2].Draft)
	assert.EqualValues(t, 2, requests.Load())
}

func TestHTTPIndex_SingleShotTagList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["2024-08-01", "2024-09-02"]`)
	}))
	defer server.Close()

	index := NewHTTPIndex(server.URL)
	index.PerPage = 2

	releases, err := index.Releases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Release{{Tag: "2024-08-01"}, {Tag: "2024-09-02"}}, releases)
}

func TestHTTPIndex_ErrorStatus(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	index := NewHTTPIndex(server.URL)
	index.InitialInterval = time.Millisecond
	_, err := index.Releases(context.Background())
	require.ErrorIs(t, err, ErrIndexStatus)
	assert.EqualValues(t, 1, requests.Load(), "status failures are not retried")
}

func TestHTTPIndex_RetriesTransientFailure(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				return
			}
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
			return
		}
		fmt.Fprint(w, `[{"tag_name":"2024-09-02"}]`)
	}))
	defer server.Close()

	index := NewHTTPIndex(server.URL)
	index.InitialInterval = time.Millisecond

	releases, err := index.Releases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Release{{Tag: "2024-09-02"}}, releases)
	assert.EqualValues(t, 2, requests.Load())
}

func TestHTTPIndex_RetriesAreBounded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	index := NewHTTPIndex(deadURL)
	index.Retries = 1
	index.InitialInterval = time.Millisecond

	_, err := index.Releases(context.Background())
	require.Error(t, err)
}

func TestHTTPIndex_RejectsInsecureURL(t *testing.T) {
	_, err := NewHTTPIndex("http://example.com/releases").Releases(context.Background())
	require.ErrorIs(t, err, binary.ErrInsecureURL)
}
