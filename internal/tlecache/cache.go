// Package tlecache fetches element files and keeps them in a local directory
// named by the server's content fingerprint (ETag). A fingerprint that is
// already on disk is never downloaded again.
package tlecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/telemetry"
)

const (
	// PartialPrefix prefixes in-progress downloads. Such files are never cache entries.
	PartialPrefix = ".partial-"

	dirPerm             = 0o755
	filePerm            = 0o644
	defaultTimeout      = 30 * time.Second
	progressLogInterval = 256 * 1024
	fingerprintHeader   = "ETag"
	lastModifiedHeader  = "Last-Modified"
)

// ErrMalformedURL is wrapped by NetworkError when the URL cannot be requested.
var ErrMalformedURL = errors.New("malformed url")

// Entry is one element file in the cache.
type Entry struct {
	Fingerprint  string    // sanitized fingerprint, also the file name
	LastModified time.Time // zero when the server sent no usable Last-Modified
	Path         string
	Size         int64
	Transferred  int64 // body bytes downloaded by this call, 0 on a cache hit
	CacheHit     bool
}

// Cache is the content-addressed element file cache.
type Cache struct {
	dir       string
	client    *http.Client
	timeout   time.Duration
	telemetry *telemetry.Telemetry
	group     singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithTimeout bounds a single fetch, connection and body included. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithTelemetry records fetch metrics and spans.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Cache) {
		c.telemetry = t
	}
}

// New creates the cache directory if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &IOError{Path: dir, Op: "mkdir", Err: err}
	}

	c := &Cache{
		dir:     dir,
		timeout: defaultTimeout,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// SanitizeFingerprint turns an ETag value into a file name by stripping
// quotes, colons and both kinds of slash. It returns "" when nothing usable
// remains.
func SanitizeFingerprint(etag string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '"', ':', '/', '\\':
			return -1
		}

		return r
	}, etag)

	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}

	return name
}

// FetchOrReuse requests rawURL and returns the cache entry for the fingerprint
// the server reports. The body is only read when no file with that fingerprint
// exists yet. progress may be nil; it is only called while a body is being
// downloaded and its length is known.
//
// Concurrent calls for the same URL share one request. Only the first caller's
// progress sink receives updates.
func (c *Cache) FetchOrReuse(ctx context.Context, rawURL string, progress ProgressSink) (*Entry, error) {
	v, err, shared := c.group.Do(rawURL, func() (any, error) {
		return c.fetch(ctx, rawURL, progress)
	})
	if err != nil {
		return nil, err
	}

	entry := *v.(*Entry)
	if shared {
		logctx.LoggerFromContext(ctx).Debug("shared in-flight fetch", "url", rawURL)
	}

	return &entry, nil
}

func (c *Cache) fetch(ctx context.Context, rawURL string, progress ProgressSink) (*Entry, error) {
	ctx, logger := logctx.With(ctx, "url", rawURL)

	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var entry *Entry

	err := c.telemetry.InstrumentFetch(ctx, func(ctx context.Context) (string, error) {
		var err error

		entry, err = c.fetchOrReuse(ctx, logger, rawURL, progress)
		if err != nil {
			return telemetry.OutcomeError, err
		}

		if entry.CacheHit {
			return telemetry.OutcomeCacheHit, nil
		}

		return telemetry.OutcomeDownloaded, nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (c *Cache) fetchOrReuse(ctx context.Context, logger *slog.Logger, rawURL string, progress ProgressSink) (*Entry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("%w: %w", ErrMalformedURL, err)}
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, &NetworkError{URL: rawURL, Err: ErrMalformedURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("%w: %w", ErrMalformedURL, err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	name := SanitizeFingerprint(resp.Header.Get(fingerprintHeader))
	if name == "" {
		return nil, &NoFingerprintError{URL: rawURL}
	}

	entry := &Entry{
		Fingerprint: name,
		Path:        filepath.Join(c.dir, name),
	}

	if lm := resp.Header.Get(lastModifiedHeader); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t.UTC()
		} else {
			logger.Debug("ignoring unparsable last-modified header", "last_modified", lm, "err", err)
		}
	}

	info, err := os.Stat(entry.Path)

	switch {
	case err == nil:
		entry.Size = info.Size()
		entry.CacheHit = true

		logger.Debug("element file already cached", "fingerprint", name, "file_path", entry.Path)

		return entry, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, &IOError{Path: entry.Path, Op: "stat", Err: err}
	}

	n, err := c.download(ctx, logger, resp, entry.Path, progress)
	if err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			return nil, err
		}

		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	entry.Size = n
	entry.Transferred = n

	logger.Info("downloaded element file",
		"fingerprint", name,
		"file_path", entry.Path,
		"file_size", humanize.Bytes(uint64(n)),
	)

	return entry, nil
}

// download streams the body into a partial file and renames it to target
// once the whole body has been written. The partial file is removed on any
// failure.
func (c *Cache) download(ctx context.Context, logger *slog.Logger, resp *http.Response, target string, progress ProgressSink) (int64, error) {
	tmp, err := os.CreateTemp(c.dir, PartialPrefix+"*")
	if err != nil {
		return 0, &IOError{Path: c.dir, Op: "create", Err: err}
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		_ = tmp.Close()

		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove partial download", "file_path", tmp.Name(), "err", err)
		}
	}()

	total := resp.ContentLength
	if total > 0 {
		logger.Info("downloading element file", "file_size", humanize.Bytes(uint64(total)))
	}

	var lastLogged int64

	pr := newProgressReader(resp.Body, total, progress, func(read, total int64) {
		if read-lastLogged < progressLogInterval {
			return
		}

		lastLogged = read

		if total > 0 {
			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	n, err := io.Copy(tmp, pr)

	c.telemetry.RecordFetchBytes(ctx, n)

	if err != nil {
		if readErr := pr.Err(); readErr != nil {
			return n, fmt.Errorf("failed to read response body: %w", readErr)
		}

		return n, &IOError{Path: tmp.Name(), Op: "write", Err: err}
	}

	if total > 0 && n != total {
		return n, fmt.Errorf("failed to read response body: got %d of %d bytes: %w", n, total, io.ErrUnexpectedEOF)
	}

	if err := tmp.Chmod(filePerm); err != nil {
		return n, &IOError{Path: tmp.Name(), Op: "chmod", Err: err}
	}

	if err := tmp.Close(); err != nil {
		return n, &IOError{Path: tmp.Name(), Op: "close", Err: err}
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return n, &IOError{Path: target, Op: "rename", Err: err}
	}

	committed = true

	return n, nil
}
