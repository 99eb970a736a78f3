package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/p-n-ai/pai-quest/internal/ai"
	"github.com/p-n-ai/pai-quest/internal/api"
	"github.com/p-n-ai/pai-quest/internal/bus"
	"github.com/p-n-ai/pai-quest/internal/catalog"
	"github.com/p-n-ai/pai-quest/internal/events"
	"github.com/p-n-ai/pai-quest/internal/gateway"
	"github.com/p-n-ai/pai-quest/internal/kv"
	"github.com/p-n-ai/pai-quest/internal/platform/cache"
	"github.com/p-n-ai/pai-quest/internal/platform/config"
	"github.com/p-n-ai/pai-quest/internal/platform/database"
	"github.com/p-n-ai/pai-quest/internal/realtime"
	"github.com/p-n-ai/pai-quest/internal/schedule"
	"github.com/p-n-ai/pai-quest/internal/youtube"
)

const (
	memoryCacheSize = 1000
	sessionIdleTTL  = 2 * time.Hour
	sweepInterval   = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// app is the wired service and the resources it owns.
type app struct {
	server  *api.Server
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp connects optional backing services and wires the API. Redis and
// PostgreSQL are used only when configured.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	logger.Info("catalog loaded", "subjects", cat.Len())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := make(map[string]api.Check)

	store := kv.NewMemoryStore()
	channels := []bus.Bus{bus.NewLocal(), bus.NewStorageChannel(store)}

	var responses gateway.ResponseCache = gateway.NewMemoryCache(memoryCacheSize)
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		responses = c
		channels = append(channels, bus.NewRedisChannel(c.Client, logger))
		checks["cache"] = c.HealthCheck
		logger.Info("cache connected")
	}
	b := bus.NewFanout(channels...)

	var audit events.Logger = events.NopLogger{}
	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		audit = events.NewPostgresLogger(db.Pool)
		checks["database"] = db.HealthCheck
		logger.Info("database connected")
	}

	var provider ai.Provider
	if cfg.HasAIProvider() {
		router := ai.NewRouter()
		router.Register("google", ai.NewGoogleProvider(cfg.AI.Google.APIKey,
			ai.WithGoogleModel(cfg.AI.Google.Model),
			ai.WithGoogleBaseURL(cfg.AI.Google.BaseURL),
		))
		provider = router
	} else {
		logger.Warn("no AI provider configured; chat and quiz requests will fail")
	}

	var videos gateway.VideoSearcher
	if cfg.HasVideoProvider() {
		videos = youtube.NewClient(cfg.YouTube.APIKey, youtube.WithBaseURL(cfg.YouTube.BaseURL))
	} else {
		logger.Warn("no YouTube API key configured; video search will fail")
	}

	opts := []gateway.Option{
		gateway.WithMetrics(gateway.NewMetrics(registry)),
		gateway.WithAuditLog(audit),
		gateway.WithLogger(logger),
	}

	var hub http.Handler
	if cfg.Realtime.Enabled {
		h := realtime.NewHub(b, logger)
		a.closers = append(a.closers, h.Close)
		hub = h
	}

	a.server = api.New(api.Deps{
		Catalog:   cat,
		Chat:      gateway.NewChat(provider, opts...),
		Quiz:      gateway.NewQuiz(provider, opts...),
		Search:    gateway.NewSearch(videos, responses, opts...),
		Store:     store,
		Bus:       b,
		Scheduler: schedule.Timer{},
		Realtime:  hub,
		Registry:  registry,
		Checks:    checks,
		Logger:    logger,
	})
	a.closers = append(a.closers, a.server.Close)
	a.handler = a.server.Handler()
	return a, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go a.server.ExpireSessions(sweepCtx, sweepInterval, sessionIdleTTL)

	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:     a.handler,
		ReadTimeout: 10 * time.Second,
		// Forwarders bound their own upstream calls.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
