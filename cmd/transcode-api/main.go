package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/princekumarofficial/transcode-nexus/internal/config"
	"github.com/princekumarofficial/transcode-nexus/internal/events"
	"github.com/princekumarofficial/transcode-nexus/internal/http/handlers/health"
	"github.com/princekumarofficial/transcode-nexus/internal/http/handlers/jobs"
	wsHandler "github.com/princekumarofficial/transcode-nexus/internal/http/handlers/websocket"
	"github.com/princekumarofficial/transcode-nexus/internal/http/middleware"
	"github.com/princekumarofficial/transcode-nexus/internal/lifecycle"
	"github.com/princekumarofficial/transcode-nexus/internal/queue"
	"github.com/princekumarofficial/transcode-nexus/internal/services/intake"
	"github.com/princekumarofficial/transcode-nexus/internal/storage/backend"
	jobtypes "github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
	"github.com/princekumarofficial/transcode-nexus/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "local" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func main() {
	// load config
	cfg := config.MustLoad()

	logger := newLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := queue.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to initialize redis:", err)
	}
	defer rdb.Close()
	slog.Info("Connected to Redis", slog.String("address", cfg.Redis.Address))

	store, err := backend.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	slog.Info("Object storage ready", slog.String("driver", cfg.Storage.Driver), slog.String("bucket", cfg.Storage.Bucket))

	q := queue.NewClient(rdb, queue.Options{Prefix: cfg.Redis.Prefix, RecordTTL: cfg.Lifecycle.JobRecordTTL})
	leases := lifecycle.NewRedisLeases(rdb, cfg.Redis.Prefix)
	sweeper := lifecycle.NewManager(store, cfg.Lifecycle.Retention,
		lifecycle.WithLeases(leases),
		lifecycle.WithLogger(logger.With(slog.String("component", "lifecycle"))))

	svc := intake.NewService(store, q, sweeper, leases, intake.Options{
		MaxUploadSize:     cfg.Intake.MaxUploadSize,
		AllowedExtensions: cfg.Intake.AllowedExtensions,
		DefaultFormat:     jobtypes.Format(cfg.Intake.DefaultFormat),
		LeaseTTL:          cfg.Lifecycle.LeaseTTL,
		Retention:         cfg.Lifecycle.Retention,
	})

	hub := websocket.NewHub()
	go hub.Run(ctx)

	relay := events.NewRelay(rdb, q, hub)
	go func() {
		if err := relay.Run(ctx); err != nil {
			slog.Error("status event relay stopped", slog.String("error", err.Error()))
		}
	}()

	rateLimit := middleware.NewRateLimitConfig(rdb, cfg.Redis.Prefix, cfg.Intake.RateLimitPerMinute)

	// setup router
	router := http.NewServeMux()

	router.Handle("POST /jobs", rateLimit.RateLimitedHandler(middleware.ActionSubmit, jobs.Submit(svc, cfg.Intake.MaxUploadSize)))
	router.HandleFunc("GET /jobs/{job_id}", jobs.Status(svc))
	router.HandleFunc("GET /jobs/{job_id}/events", wsHandler.JobEvents(hub, svc))
	router.HandleFunc("GET /healthz", health.Handler(q))
	router.Handle("GET /metrics", promhttp.Handler())

	server := http.Server{
		Addr:    cfg.HTTPServer.Address,
		Handler: router,
	}

	slog.Info("server started", slog.String("address", cfg.HTTPServer.Address))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %s", err)
		}
	}()

	<-ctx.Done()

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
		return
	}

	slog.Info("Server stopped")
}
