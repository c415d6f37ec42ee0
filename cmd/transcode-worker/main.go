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
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/config"
	"github.com/princekumarofficial/transcode-nexus/internal/lifecycle"
	"github.com/princekumarofficial/transcode-nexus/internal/metrics"
	"github.com/princekumarofficial/transcode-nexus/internal/notify"
	"github.com/princekumarofficial/transcode-nexus/internal/queue"
	"github.com/princekumarofficial/transcode-nexus/internal/storage/backend"
	"github.com/princekumarofficial/transcode-nexus/internal/transcode"
	"github.com/princekumarofficial/transcode-nexus/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Recoverer clears deliveries abandoned by dead workers.
type Recoverer struct {
	queue      *queue.Client
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func (rc *Recoverer) Start(ctx context.Context) error {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.logger.Info("Stale job recovery started",
		"interval", rc.interval.String(),
		"stale_after", rc.staleAfter.String())

	// Run once immediately on startup
	rc.recover(ctx)

	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("Stale job recovery shutting down")
			return nil
		case <-ticker.C:
			rc.recover(ctx)
		}
	}
}

func (rc *Recoverer) recover(ctx context.Context) {
	startTime := time.Now()

	count, err := rc.queue.RecoverStale(ctx, rc.staleAfter)
	if err != nil {
		rc.logger.Error("Failed to recover stale jobs",
			"error", err.Error(),
			"duration_ms", time.Since(startTime).Milliseconds())
		return
	}

	if count > 0 {
		metrics.RecoveredJobs.Add(float64(count))
		rc.logger.Info("Recovered stale jobs",
			"jobs_recovered", count,
			"duration_ms", time.Since(startTime).Milliseconds())
	}
}

func main() {
	// Load config
	cfg := config.MustLoad()

	level := slog.LevelInfo
	if cfg.Env == "local" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	q := queue.NewClient(rdb, queue.Options{Prefix: cfg.Redis.Prefix, RecordTTL: cfg.Lifecycle.JobRecordTTL})

	w := worker.New(
		store,
		transcode.NewFFmpeg(transcode.WithBinary(cfg.Transcode.FFmpegBinary)),
		q,
		notify.NewDispatcher(cfg.Mail, logger),
		lifecycle.NewRedisLeases(rdb, cfg.Redis.Prefix),
		worker.Options{
			URLTTL:      cfg.Transcode.URLTTL,
			Timeout:     cfg.Transcode.Timeout,
			WorkDir:     cfg.Transcode.WorkDir,
			LeaseTTL:    cfg.Lifecycle.LeaseTTL,
			PollTimeout: cfg.Worker.PollTimeout,
		},
		logger,
	)

	recoverer := &Recoverer{
		queue:      q,
		interval:   cfg.Worker.RecoveryInterval,
		staleAfter: cfg.Worker.StaleAfter,
		logger:     logger.With(slog.String("component", "recovery")),
	}

	metricsServer := &http.Server{
		Addr:    cfg.Worker.MetricsAddress,
		Handler: promhttp.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	for slot := 0; slot < cfg.Worker.Count; slot++ {
		g.Go(func() error {
			return w.Run(gctx, slot)
		})
	}

	g.Go(func() error {
		return recoverer.Start(gctx)
	})

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	slog.Info("Transcode worker started", slog.Int("slots", cfg.Worker.Count))

	if err := g.Wait(); err != nil {
		slog.Error("Transcode worker stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Transcode worker stopped")
}
