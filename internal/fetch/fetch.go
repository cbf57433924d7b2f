package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"visor/core-go/internal/source"
)

// StatusError reports a non-success response (or a missing local file) for URL.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d loading %s", e.Status, e.URL)
}

// WithCacheBust appends v=<unix millis> so CDNs and proxies cannot serve a stale copy.
func WithCacheBust(rawURL string, now time.Time) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "v=" + strconv.FormatInt(now.UnixMilli(), 10)
}

type Options struct {
	Client   *http.Client
	Timeout  time.Duration
	DataDir  string
	MaxBytes int64
	Now      func() time.Time
}

// Fetcher reads layer payloads from remote URLs or the local data directory.
type Fetcher struct {
	log      zerolog.Logger
	client   *http.Client
	timeout  time.Duration
	data     fs.FS
	dataDir  string
	maxBytes int64
	now      func() time.Time
}

func New(log zerolog.Logger, opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	dataDir := strings.TrimSpace(opts.DataDir)
	if dataDir == "" {
		dataDir = "."
	}
	return &Fetcher{
		log:      log,
		client:   client,
		timeout:  timeout,
		data:     os.DirFS(dataDir),
		dataDir:  dataDir,
		maxBytes: maxBytes,
		now:      now,
	}
}

func (f *Fetcher) DataDir() string { return f.dataDir }

// Timeout is the per-request deadline applied to remote fetches.
func (f *Fetcher) Timeout() time.Duration { return f.timeout }

// Fetch returns the raw payload for loc.
func (f *Fetcher) Fetch(ctx context.Context, loc source.Location) ([]byte, error) {
	if loc.IsLocal() && !isAbsoluteURL(loc.Ref) {
		return f.readLocal(loc.Ref)
	}
	return f.get(ctx, loc.Ref)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	u := WithCacheBust(rawURL, f.now())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	f.log.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("layer fetch")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Status: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("payload of %s exceeds %d bytes", rawURL, f.maxBytes)
	}
	return body, nil
}

func (f *Fetcher) readLocal(ref string) ([]byte, error) {
	name := path.Clean(strings.TrimPrefix(strings.TrimPrefix(ref, "./"), "/"))
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("invalid local path %q", ref)
	}
	b, err := fs.ReadFile(f.data, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StatusError{Status: http.StatusNotFound, URL: ref}
		}
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(b)) > f.maxBytes {
		return nil, fmt.Errorf("payload of %s exceeds %d bytes", ref, f.maxBytes)
	}
	return b, nil
}

func isAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
