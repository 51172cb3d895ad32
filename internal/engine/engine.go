package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/tle"
)

// CommandKind names a message on the engine queue.
type CommandKind string

const (
	CommandUseTLE      CommandKind = "USE_TLE"
	CommandFetchFailed CommandKind = "FETCH_FAILED"
	CommandShowBeam    CommandKind = "SHOW_BEAM"
)

var (
	ErrQueueFull        = errors.New("engine queue full")
	ErrNoElements       = errors.New("no element file loaded")
	ErrUnknownSatellite = errors.New("satellite not in loaded element file")
)

// Command is one message to the engine.
type Command struct {
	Kind          CommandKind
	Path          string
	URL           string
	CatalogNumber int
}

const (
	defaultFrameInterval = 100 * time.Millisecond
	frameReportInterval  = time.Second
)

// Engine is the reference engine adapter. It consumes commands from its own
// queue on a single goroutine and reports back through a boundary.Reporter.
type Engine struct {
	reporter      boundary.Reporter
	queue         chan Command
	frameInterval time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	path     string
	elements []tle.Element
}

// Option configures an Engine.
type Option func(*Engine)

// WithFrameInterval sets how often a frame is drawn.
func WithFrameInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.frameInterval = d
	}
}

// WithClock replaces time.Now for propagation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(reporter boundary.Reporter, buffer int, opts ...Option) *Engine {
	e := &Engine{
		reporter:      reporter,
		queue:         make(chan Command, buffer),
		frameInterval: defaultFrameInterval,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// OnFileReady queues the element file for loading.
func (e *Engine) OnFileReady(path string) {
	_ = e.Send(Command{Kind: CommandUseTLE, Path: path})
}

// OnFetchFailed keeps the currently loaded elements.
func (e *Engine) OnFetchFailed(url string) {
	_ = e.Send(Command{Kind: CommandFetchFailed, URL: url})
}

// ShowBeam asks for the position of a satellite. Zero picks the first one.
func (e *Engine) ShowBeam(catalogNumber int) error {
	e.mu.RLock()
	loaded := len(e.elements) > 0
	e.mu.RUnlock()

	if !loaded {
		return ErrNoElements
	}

	return e.Send(Command{Kind: CommandShowBeam, CatalogNumber: catalogNumber})
}

// Send queues cmd without blocking.
func (e *Engine) Send(cmd Command) error {
	select {
	case e.queue <- cmd:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s", ErrQueueFull, cmd.Kind)
	}
}

// Loaded returns the loaded element file and its satellite count.
func (e *Engine) Loaded() (string, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.path, len(e.elements)
}

// Run processes commands and reports the frame rate until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)
	logger.Info("engine started", "frame_interval", e.frameInterval)

	frames := time.NewTicker(e.frameInterval)
	defer frames.Stop()

	report := time.NewTicker(frameReportInterval)
	defer report.Stop()

	drawn := 0
	since := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down engine")

			return
		case cmd := <-e.queue:
			e.handle(ctx, cmd)
		case <-frames.C:
			drawn++
		case now := <-report.C:
			elapsed := now.Sub(since).Seconds()
			if elapsed > 0 {
				e.reporter.ReportFrameRate(float64(drawn) / elapsed)
			}

			drawn, since = 0, now
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd Command) {
	logger := logctx.LoggerFromContext(ctx)

	switch cmd.Kind {
	case CommandUseTLE:
		elements, err := tle.ParseFile(cmd.Path)
		if err != nil {
			logger.Error("failed to load element file", "file_path", cmd.Path, "err", err)

			return
		}

		e.mu.Lock()
		e.path, e.elements = cmd.Path, elements
		e.mu.Unlock()

		logger.Info("element file loaded", "file_path", cmd.Path, "satellites", len(elements))
		e.reporter.ReportProgress(100)
		e.beam(ctx, 0)
	case CommandFetchFailed:
		path, n := e.Loaded()
		logger.Warn("fetch failed, keeping loaded elements", "url", cmd.URL, "file_path", path, "satellites", n)
	case CommandShowBeam:
		e.beam(ctx, cmd.CatalogNumber)
	default:
		logger.Warn("unknown engine command", "command", cmd.Kind)
	}
}

func (e *Engine) beam(ctx context.Context, catalogNumber int) {
	logger := logctx.LoggerFromContext(ctx)

	el, err := e.find(catalogNumber)
	if err != nil {
		logger.Warn("cannot show beam", "catalog_number", catalogNumber, "err", err)

		return
	}

	pos, err := el.Locate(e.now())
	if err != nil {
		logger.Warn("failed to locate satellite", "name", el.Name, "err", err)

		return
	}

	e.reporter.ReportBeamEvent(boundary.BeamEvent{
		Name:          el.Name,
		CatalogNumber: el.CatalogNumber,
		Latitude:      pos.Latitude,
		Longitude:     pos.Longitude,
		Altitude:      pos.AltitudeKm,
	})
}

func (e *Engine) find(catalogNumber int) (tle.Element, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.elements) == 0 {
		return tle.Element{}, ErrNoElements
	}

	if catalogNumber == 0 {
		return e.elements[0], nil
	}

	for _, el := range e.elements {
		if el.CatalogNumber == catalogNumber {
			return el, nil
		}
	}

	return tle.Element{}, fmt.Errorf("%w: %d", ErrUnknownSatellite, catalogNumber)
}
