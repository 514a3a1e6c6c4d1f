package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of retries after a network failure
	DefaultRetries = 3
	// DefaultInitialInterval is the first backoff delay
	DefaultInitialInterval = time.Second
	// DefaultTextLimit caps bodies read by FetchText
	DefaultTextLimit = 1 << 20
)

// Fetcher handles HTTP downloads with retry logic
type Fetcher struct {
	Client          *http.Client
	UserAgent       string
	Retries         int
	InitialInterval time.Duration
	Logger          zerolog.Logger
}

// NewFetcher creates a fetcher identifying itself as userAgent.
func NewFetcher(userAgent string) *Fetcher {
	return &Fetcher{
		Client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				if err := CheckTransport(req.URL); err != nil {
					return err
				}
				return nil
			},
		},
		UserAgent:       userAgent,
		Retries:         DefaultRetries,
		InitialInterval: DefaultInitialInterval,
		Logger:          zerolog.Nop(),
	}
}

// CheckTransport rejects plain http unless the host is loopback.
func CheckTransport(u *url.URL) error {
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrInsecureURL, u.Redacted())
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Fetch downloads rawURL to destPath. The body is streamed to a temporary
// file beside destPath and renamed only once complete.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) error {
	_, err := retry(ctx, f, rawURL, func() (struct{}, error) {
		return struct{}{}, f.fetchOnce(ctx, rawURL, destPath)
	})
	return err
}

// FetchText returns a small body, trimmed of surrounding whitespace.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	data, err := f.FetchBytes(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// FetchBytes returns a small body. Bodies larger than DefaultTextLimit are
// rejected.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return retry(ctx, f, rawURL, func() ([]byte, error) {
		resp, err := f.get(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, DefaultTextLimit+1))
		if err != nil {
			return nil, f.networkError(ctx, rawURL, err)
		}
		if len(data) > DefaultTextLimit {
			return nil, backoff.Permanent(&FetchError{Kind: KindCorrupt, URL: rawURL, Err: errors.New("response too large")})
		}
		return data, nil
	})
}

// fetchOnce performs a single download attempt
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, destPath string) error {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return backoff.Permanent(&cache.CacheError{Op: "create download dir", Path: filepath.Dir(destPath), Err: err})
	}

	tmpPath := destPath + ".part"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return backoff.Permanent(&cache.CacheError{Op: "create", Path: tmpPath, Err: err})
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	w := &fileWriter{f: tmpFile}
	if _, err := io.Copy(w, resp.Body); err != nil {
		if w.err != nil {
			return backoff.Permanent(&cache.CacheError{Op: "write", Path: tmpPath, Err: w.err})
		}
		return f.networkError(ctx, rawURL, err)
	}

	if err := tmpFile.Close(); err != nil {
		return backoff.Permanent(&cache.CacheError{Op: "close", Path: tmpPath, Err: err})
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return backoff.Permanent(&cache.CacheError{Op: "rename", Path: tmpPath, Err: err})
	}

	cleanupNeeded = false
	return nil
}

// get issues one GET request. A returned response always has a 2xx status.
func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, backoff.Permanent(&FetchError{Kind: KindHTTP, URL: rawURL, Err: err})
	}
	if err := CheckTransport(u); err != nil {
		return nil, backoff.Permanent(&FetchError{Kind: KindHTTP, URL: rawURL, Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(&FetchError{Kind: KindHTTP, URL: rawURL, Err: err})
	}
	req.Header.Set("User-Agent", f.UserAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, ErrInsecureURL) {
			return nil, backoff.Permanent(&FetchError{Kind: KindHTTP, URL: rawURL, Err: err})
		}
		return nil, f.networkError(ctx, rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, backoff.Permanent(&FetchError{
			Kind:       KindHTTP,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		})
	}

	return resp, nil
}

// networkError wraps a transport failure. Cancellation is not retried.
func (f *Fetcher) networkError(ctx context.Context, rawURL string, err error) error {
	fe := &FetchError{Kind: KindNetwork, URL: rawURL, Err: err}
	if ctx.Err() != nil {
		return backoff.Permanent(fe)
	}
	return fe
}

// retry runs op until it succeeds, fails permanently, or the retry budget
// is spent. Only KindNetwork failures are retried.
func retry[T any](ctx context.Context, f *Fetcher, rawURL string, op backoff.Operation[T]) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialInterval
	}
	b.Multiplier = 2

	retries := f.Retries
	if retries < 0 {
		retries = 0
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.Logger.Debug().Err(err).Str("url", rawURL).Dur("retry_in", next).Msg("fetch failed, retrying")
		}),
	)
}

// fileWriter keeps the last write error so a failed copy can be blamed on
// the local file rather than the source.
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}
