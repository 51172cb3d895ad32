// Package session drives an element file fetch every time the foreground
// session resumes and delivers the result back on the foreground loop.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/catalog"
	"github.com/italolelis/tle_downloader/internal/foreground"
	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/prefs"
	"github.com/italolelis/tle_downloader/internal/storage"
	"github.com/italolelis/tle_downloader/internal/telemetry"
	"github.com/italolelis/tle_downloader/internal/tlecache"
)

// Fetcher is the cache the orchestrator fetches through.
type Fetcher interface {
	FetchOrReuse(ctx context.Context, url string, progress tlecache.ProgressSink) (*tlecache.Entry, error)
}

// Store is the config store the orchestrator reads the URL from.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, origin prefs.Origin) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     Store
	Resolver  *catalog.Resolver
	Fetcher   Fetcher
	Poster    foreground.Poster
	Engine    boundary.Engine
	UI        boundary.UI
	Telemetry *telemetry.Telemetry
}

// Orchestrator runs at most one fetch at a time. Resume and Pause must be
// called on the foreground loop.
//
// Every foreground session gets a generation number. Callbacks carry the
// generation they were started under and are dropped when it is no longer
// current, so a fetch outliving its session never touches the UI.
type Orchestrator struct {
	Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	generation atomic.Uint64
	active     atomic.Bool
	inFlight   atomic.Bool
	pending    atomic.Bool
	lastFile   atomic.Value
}

// New creates an orchestrator. Background fetches inherit ctx and are
// cancelled by Close.
func New(ctx context.Context, deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)

	return &Orchestrator{
		Deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Resume starts a session and fetches the active URL in the background. It
// never blocks on the network. It reports whether a fetch was started; a
// resume while a fetch is in flight is queued and runs once that fetch
// completes.
func (o *Orchestrator) Resume(ctx context.Context) bool {
	if !o.active.Swap(true) {
		o.generation.Add(1)
	}

	logger := logctx.LoggerFromContext(ctx)

	if o.inFlight.Load() {
		o.pending.Store(true)
		logger.Debug("fetch already in flight, queued another run")

		return false
	}

	url, err := o.activeURL(ctx)
	if err != nil {
		logger.Error("failed to read active url", "err", err)
		o.Telemetry.RecordSystemError(ctx, "session", "config_store")

		return false
	}

	o.start(url)

	return true
}

// Pause ends the foreground session. A fetch in flight runs to completion but
// its callbacks become no-ops, and a queued run is dropped.
func (o *Orchestrator) Pause() {
	if o.active.Swap(false) {
		o.generation.Add(1)
	}

	o.pending.Store(false)
}

// Close cancels background work and waits for it to return.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// InFlight reports whether a fetch is running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// Active reports whether a foreground session is running.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// LastFile returns the path last handed to the engine, or "".
func (o *Orchestrator) LastFile() string {
	path, _ := o.lastFile.Load().(string)

	return path
}

// activeURL returns the stored URL, deriving and persisting one on first run.
func (o *Orchestrator) activeURL(ctx context.Context) (string, error) {
	url, err := o.Store.Get(ctx, storage.KeyActiveURL)
	if err != nil || url != "" {
		return url, err
	}

	selection, err := o.Store.Get(ctx, storage.KeyCatalogSelection)
	if err != nil {
		return "", err
	}

	if selection == "" {
		selection = o.Resolver.Default()
		if err := o.Store.Set(ctx, storage.KeyCatalogSelection, selection, prefs.OriginInternal); err != nil {
			return "", err
		}
	}

	url = o.Resolver.Resolve(selection)

	if err := o.Store.Set(ctx, storage.KeyActiveURL, url, prefs.OriginInternal); err != nil {
		return "", err
	}

	if err := o.Store.Set(ctx, storage.KeyActiveURLSource, storage.SourceDerived, prefs.OriginInternal); err != nil {
		return "", err
	}

	logctx.LoggerFromContext(ctx).Info("derived active url on first run", "selection", selection, "url", url)

	return url, nil
}

func (o *Orchestrator) start(url string) {
	gen := o.generation.Load()

	o.inFlight.Store(true)
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		ctx, logger := logctx.With(o.ctx, "url", url)
		logger.Info("fetching element file")

		entry, err := o.Fetcher.FetchOrReuse(ctx, url, func(percent int) {
			o.post(ctx, gen, "progress", func() {
				o.UI.ShowProgress(percent)
			})
		})

		if !o.Poster.Post(func() { o.complete(ctx, gen, url, entry, err) }) {
			logger.Debug("foreground loop stopped, dropping fetch result")
			o.inFlight.Store(false)
		}
	}()
}

// post queues fn on the foreground loop, guarded by the session generation.
func (o *Orchestrator) post(ctx context.Context, gen uint64, callback string, fn func()) {
	o.Poster.Post(func() {
		if !o.current(gen) {
			o.Telemetry.RecordStaleCallback(ctx, callback)

			return
		}

		fn()
	})
}

func (o *Orchestrator) current(gen uint64) bool {
	return o.active.Load() && o.generation.Load() == gen
}

// complete runs on the foreground loop.
func (o *Orchestrator) complete(ctx context.Context, gen uint64, url string, entry *tlecache.Entry, err error) {
	o.inFlight.Store(false)

	logger := logctx.LoggerFromContext(ctx)

	if !o.current(gen) {
		logger.Debug("session ended before fetch completed, dropping result")
		o.Telemetry.RecordStaleCallback(ctx, "completion")
	} else if err != nil {
		o.fail(ctx, url, err)
	} else {
		o.succeed(ctx, url, entry)
	}

	if o.pending.Swap(false) && o.active.Load() {
		logger.Debug("running queued fetch")
		o.Resume(ctx)
	}
}

func (o *Orchestrator) succeed(ctx context.Context, url string, entry *tlecache.Entry) {
	logger := logctx.LoggerFromContext(ctx)

	values := []struct{ key, value string }{
		{storage.KeyLastUsedURL, url},
		{storage.KeyLastFingerprint, entry.Fingerprint},
	}

	if !entry.LastModified.IsZero() {
		values = append(values, struct{ key, value string }{storage.KeyLastModified, entry.LastModified.Format(time.RFC3339)})
	}

	for _, v := range values {
		if err := o.Store.Set(ctx, v.key, v.value, prefs.OriginInternal); err != nil {
			logger.Error("failed to record fetch result", "key", v.key, "err", err)
			o.Telemetry.RecordSystemError(ctx, "session", "config_store")
		}
	}

	o.lastFile.Store(entry.Path)

	logger.Info("element file ready",
		"file_path", entry.Path,
		"fingerprint", entry.Fingerprint,
		"cache_hit", entry.CacheHit,
	)

	o.UI.ShowProgress(0)
	o.Engine.OnFileReady(entry.Path)
}

func (o *Orchestrator) fail(ctx context.Context, url string, err error) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		netErr *tlecache.NetworkError
		fpErr  *tlecache.NoFingerprintError
		ioErr  *tlecache.IOError
	)

	kind := "unknown"

	switch {
	case errors.As(err, &netErr):
		kind = "network"
	case errors.As(err, &fpErr):
		kind = "no_fingerprint"
	case errors.As(err, &ioErr):
		kind = "io"
	}

	logger.Error("failed to fetch element file", "error_kind", kind, "err", err)
	o.Telemetry.RecordSystemError(ctx, "session", kind)

	o.UI.ShowProgress(0)
	o.UI.ShowMessage(boundary.FailureMessage(url))
	o.Engine.OnFetchFailed(url)
}
