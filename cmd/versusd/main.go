package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/LucasandAI/versus-app-sub001/internal/api"
	"github.com/LucasandAI/versus-app-sub001/internal/config"
	"github.com/LucasandAI/versus-app-sub001/internal/engine"
	"github.com/LucasandAI/versus-app-sub001/internal/feed"
	"github.com/LucasandAI/versus-app-sub001/internal/kvstore"
	"github.com/LucasandAI/versus-app-sub001/internal/remote"
	"github.com/LucasandAI/versus-app-sub001/internal/syncq"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// --- Infrastructure ---

	pool, err := remote.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	kv, err := kvstore.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer kv.Close()

	markers := remote.NewMarkerStore(pool)
	transport := feed.NewWSTransport(cfg.FeedURL)

	// --- Engines ---

	registry := engine.NewRegistry(kv, markers, transport, engine.Options{
		ActiveTTL:         cfg.ActiveTTL,
		ReconcileInterval: cfg.ReconcileInterval,
		RemoteTimeout:     cfg.RemoteTimeout,
		Sync: syncq.Options{
			Debounce:      cfg.SyncDebounce,
			BatchSize:     cfg.SyncBatchSize,
			MaxRetries:    cfg.SyncMaxRetries,
			RemoteTimeout: cfg.RemoteTimeout,
		},
		Feed: feed.Options{
			HealthInterval: cfg.HealthInterval,
			CooldownMin:    cfg.ResetCooldownMin,
			CooldownMax:    cfg.ResetCooldownMax,
		},
	})

	deps := &api.Dependencies{
		Sync: api.NewSyncHandler(registry),
	}

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, api.HeaderUserID},
	}))

	api.SetupRouter(e, deps)

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("versusd starting on %s", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("shutting down...")
	// Best-effort flush of every session's pending read-marker syncs.
	registry.Shutdown()
	if err := e.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
