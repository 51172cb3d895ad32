package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/catalog"
	"github.com/italolelis/tle_downloader/internal/cleanup"
	"github.com/italolelis/tle_downloader/internal/config"
	"github.com/italolelis/tle_downloader/internal/consistency"
	"github.com/italolelis/tle_downloader/internal/engine"
	"github.com/italolelis/tle_downloader/internal/foreground"
	"github.com/italolelis/tle_downloader/internal/http/rest"
	"github.com/italolelis/tle_downloader/internal/logctx"
	"github.com/italolelis/tle_downloader/internal/notifier"
	"github.com/italolelis/tle_downloader/internal/prefs"
	"github.com/italolelis/tle_downloader/internal/session"
	"github.com/italolelis/tle_downloader/internal/storage/sqlite"
	"github.com/italolelis/tle_downloader/internal/telemetry"
	"github.com/italolelis/tle_downloader/internal/tlecache"
	"github.com/italolelis/tle_downloader/internal/ui"
)

var version = "dev"

const (
	loopBuffer   = 256
	engineBuffer = 16
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("tle downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Config Store
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	store := prefs.New(sqlite.NewInstrumentedSettingsRepository(database, tel))

	// =========================================================================
	// Start Catalogs
	groups := catalog.DefaultGroups
	if cfg.CatalogsFile != "" {
		if groups, err = catalog.LoadFile(cfg.CatalogsFile, catalog.DefaultGroups); err != nil {
			return err
		}
	}

	resolver := catalog.NewResolver(cfg.URLTemplate, cfg.DefaultCatalog, groups)
	if !resolver.Known(cfg.DefaultCatalog) {
		return fmt.Errorf("default catalog %s is not in any catalog group", cfg.DefaultCatalog)
	}

	// =========================================================================
	// Start Foreground Loop
	loop := foreground.New(loopBuffer)
	loopCtx, stopLoop := context.WithCancel(ctx)

	defer func() {
		stopLoop()
		<-loop.Done()
	}()

	go loop.Run(loopCtx)

	// =========================================================================
	// Start UI
	status := ui.NewStatus()
	shell := setupUI(ctx, cfg, status)

	// =========================================================================
	// Start Consistency Controller
	policy, err := consistency.ParsePolicy(strings.ToLower(cfg.SyncPolicy))
	if err != nil {
		return err
	}

	controller := consistency.New(store, resolver, shell, policy, tel)
	stopController := controller.Start()
	defer stopController()

	// =========================================================================
	// Start Cache
	cache, err := tlecache.New(cfg.CacheDir,
		tlecache.WithTimeout(cfg.FetchTimeout),
		tlecache.WithTelemetry(tel),
	)
	if err != nil {
		return fmt.Errorf("failed to setup cache: %w", err)
	}

	// =========================================================================
	// Start Engine
	bridge := engine.NewBridge(ctx, loop, shell, status, store)
	eng := engine.New(bridge, engineBuffer)

	// =========================================================================
	// Start Session
	orchestrator := session.New(ctx, session.Deps{
		Store:     store,
		Resolver:  resolver,
		Fetcher:   cache,
		Poster:    loop,
		Engine:    eng,
		UI:        shell,
		Telemetry: tel,
	})
	defer orchestrator.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		eng.Run(gctx)

		return nil
	})

	// =========================================================================
	// Start API Service
	server := setupServer(gctx, cfg, tel, rest.SessionHandlerDeps{
		Loop:         loop,
		Prefs:        store,
		Resolver:     resolver,
		Controller:   controller,
		Orchestrator: orchestrator,
		Status:       status,
		Engine:       eng,
		Username:     cfg.Web.Username,
		Password:     cfg.Web.Password,
	})

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	setupCleanup(gctx, g, cfg, cache, orchestrator, tel)

	if cfg.ResumeOnBoot {
		if err := loop.Do(ctx, func() { orchestrator.Resume(ctx) }); err != nil {
			return fmt.Errorf("failed to resume session: %w", err)
		}
	}

	logger.Info("session host ready",
		"cache_dir", cache.Dir(),
		"sync_policy", policy,
		"fetch_timeout", cfg.FetchTimeout.String(),
		"retention", cfg.KeepCachedFor.String(),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// setupUI picks the shell that renders core updates. The status model always
// records them so the API can serve a snapshot.
func setupUI(ctx context.Context, cfg *config.Config, status *ui.Status) boundary.UI {
	logger := logctx.LoggerFromContext(ctx)

	shells := ui.Multi{status}

	switch strings.ToLower(cfg.UIMode) {
	case "console":
		shells = append(shells, ui.NewConsoleUI(os.Stderr))
	default:
		shells = append(shells, &ui.LogUI{Logger: logger})
	}

	if cfg.DiscordWebhookURL != "" {
		n := &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
		shells = append(shells, ui.NewNotifying(ctx, n, logger))
	}

	return shells
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, deps rest.SessionHandlerDeps) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rest.NewSessionHandler(deps).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "tle_downloader"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, g *errgroup.Group, cfg *config.Config, cache *tlecache.Cache, o *session.Orchestrator, tel *telemetry.Telemetry) {
	if cfg.KeepCachedFor <= 0 {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	g.Go(func() error {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return nil
			case <-cleanupTicker.C:
				removed, err := cleanup.DeleteExpiredEntries(ctx, cache.Dir(), cfg.KeepCachedFor, o.LastFile())
				if err != nil {
					logger.Error("failed to delete expired cache entries", "err", err)
				}

				tel.RecordCacheEviction(ctx, removed)
			}
		}
	})
}
