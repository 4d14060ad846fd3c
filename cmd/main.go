package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/tinoosan/magnetron/internal/catalog"
	"github.com/tinoosan/magnetron/internal/config"
	"github.com/tinoosan/magnetron/internal/dispatcher"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/downloader/backends"
	"github.com/tinoosan/magnetron/internal/images"
	"github.com/tinoosan/magnetron/internal/logging"
	"github.com/tinoosan/magnetron/internal/metrics"
	"github.com/tinoosan/magnetron/internal/preview"
	"github.com/tinoosan/magnetron/internal/processor"
	"github.com/tinoosan/magnetron/internal/progress"
	"github.com/tinoosan/magnetron/internal/reconciler"
	"github.com/tinoosan/magnetron/internal/repo"
	"github.com/tinoosan/magnetron/internal/router"
	"github.com/tinoosan/magnetron/internal/service"
	"github.com/tinoosan/magnetron/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	l, logCloser := logging.New(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	if err := run(cfg, l); err != nil {
		l.Error("magnetron stopped", "err", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, l *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		store         repo.Repo
		settingsStore settings.Store
	)
	if cfg.DatabaseDSN != "" {
		pg, err := repo.NewPostgresRepo(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		ps, err := settings.NewPostgresStore(ctx, pg.DB())
		if err != nil {
			return err
		}
		store, settingsStore = pg, ps
		l.Info("using postgres repository")
	} else {
		store = repo.NewInMemoryRepo()
		if cfg.SettingsFile != "" {
			settingsStore = settings.NewFileStore(afero.NewOsFs(), cfg.SettingsFile)
		} else {
			settingsStore = settings.NewMemoryStore()
		}
		l.Warn("no database configured, documents are kept in memory")
	}

	// Previews, cached in Redis when available.
	var cache preview.Cache
	if cfg.RedisURL != "" {
		rc, err := preview.NewRedisCacheFromURL(ctx, cfg.RedisURL, 0)
		if err != nil {
			l.Warn("redis unavailable, previews are not cached", "err", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}
	previews := preview.NewClientFromEnv(cache, l)

	// Catalog source is optional.
	var source catalog.Source
	if s := catalog.NewHTTPSourceFromEnv(); s != nil {
		source = s
	}

	metrics.Register()

	manager := downloader.NewManager(settingsStore, backends.Factory(downloader.DefaultTimeout), l)
	statuses := service.NewStatuses(store, l)
	registry := progress.NewRegistry(l)

	defaults := downloadcfg.FromEnv()
	opts := []dispatcher.Option{dispatcher.WithDefaults(defaults), dispatcher.WithBaseContext(ctx)}
	if c := dispatcher.NewHTTPClassifierFromEnv(); c != nil {
		opts = append(opts, dispatcher.WithClassifier(c))
	}
	d := dispatcher.New(manager, statuses, registry, l, opts...)

	rec := reconciler.New(l, store, statuses, manager)
	if err := rec.Schedule(cfg.SweepSchedule, "task-sweep", func(context.Context) {
		if n := registry.Sweep(cfg.TaskMaxAge); n > 0 {
			l.Info("swept stale tasks", "count", n)
		}
	}); err != nil {
		return err
	}
	if err := rec.Run(cfg.ReconcileSchedule); err != nil {
		return err
	}
	defer rec.Stop()

	img := images.NewStore(afero.NewOsFs(), cfg.UploadDir, "/uploads/")

	handler := router.New(l, router.Deps{
		Documents:      service.NewDocuments(store, processor.New(previews, l), l),
		Movies:         service.NewMovies(store, source, cfg.CatalogBatch, l),
		Settings:       settingsStore,
		Downloads:      manager,
		Dispatcher:     d,
		Registry:       registry,
		Images:         img,
		Store:          store,
		AddDefaults:    defaults,
		AllowedOrigins: cfg.AllowedOrigins,
		RefreshLimit:   cfg.CatalogRefreshLimit,
		Base:           ctx,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams stay open, so no WriteTimeout.
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("starting magnetron", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	l.Info("received terminate, graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
