package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ReleaseServer fakes a GitHub-style release index and download host.
//
//	/releases                     JSON array of {tag_name, draft}
//	/download/<version>/<asset>   asset bytes
type ReleaseServer struct {
	*httptest.Server

	mu        sync.Mutex
	releases  []fakeRelease
	assets    map[string][]byte
	hits      map[string]int
	failIndex bool
	userAgent string
}

type fakeRelease struct {
	Tag   string `json:"tag_name"`
	Draft bool   `json:"draft,omitempty"`
}

// NewReleaseServer starts a server closed at the end of the test.
func NewReleaseServer(t *testing.T) *ReleaseServer {
	t.Helper()

	s := &ReleaseServer{
		assets: make(map[string][]byte),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// IndexURL is the release listing endpoint.
func (s *ReleaseServer) IndexURL() string {
	return s.URL + "/releases"
}

// BaseURL is the download root; assets live at BaseURL/<version>/<name>.
func (s *ReleaseServer) BaseURL() string {
	return s.URL + "/download"
}

// AddRelease appends tags to the index in the given order (newest first,
// like GitHub).
func (s *ReleaseServer) AddRelease(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		s.releases = append(s.releases, fakeRelease{Tag: tag})
	}
}

// AddDraft appends a draft release, which must never be selected.
func (s *ReleaseServer) AddDraft(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, fakeRelease{Tag: tag, Draft: true})
}

// AddAsset publishes data at /download/<version>/<name>.
func (s *ReleaseServer) AddAsset(version, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets["/download/"+version+"/"+name] = data
}

// FailIndex makes the index answer 503.
func (s *ReleaseServer) FailIndex(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIndex = fail
}

// Hits returns how often path was requested.
func (s *ReleaseServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// IndexHits returns how often the index was queried.
func (s *ReleaseServer) IndexHits() int {
	return s.Hits("/releases")
}

// DownloadHits returns the number of asset requests of any kind.
func (s *ReleaseServer) DownloadHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for path, c := range s.hits {
		if strings.HasPrefix(path, "/download/") {
			n += c
		}
	}
	return n
}

// LastUserAgent returns the User-Agent of the most recent request.
func (s *ReleaseServer) LastUserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgent
}

func (s *ReleaseServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.userAgent = r.Header.Get("User-Agent")
	failIndex := s.failIndex
	releases := append([]fakeRelease(nil), s.releases...)
	asset, ok := s.assets[r.URL.Path]
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/releases":
		if failIndex {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if page := r.URL.Query().Get("page"); page != "" && page != "1" {
			releases = nil
		}
		if releases == nil {
			releases = []fakeRelease{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(releases)

	case ok:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(asset)

	default:
		http.NotFound(w, r)
	}
}
