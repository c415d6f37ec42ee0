// Package worker executes conversion jobs pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/lifecycle"
	"github.com/princekumarofficial/transcode-nexus/internal/metrics"
	"github.com/princekumarofficial/transcode-nexus/internal/notify"
	"github.com/princekumarofficial/transcode-nexus/internal/queue"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
	"github.com/princekumarofficial/transcode-nexus/internal/transcode"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

var (
	ErrMissingInput   = errors.New("missing input")
	ErrEngineFailure  = errors.New("engine failure")
	ErrStorageFailure = errors.New("storage failure")
)

// Queue is the part of the job queue a worker consumes.
type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	SetResult(ctx context.Context, id string, r jobs.Result) (bool, error)
}

type Options struct {
	URLTTL      time.Duration
	Timeout     time.Duration
	WorkDir     string
	LeaseTTL    time.Duration
	PollTimeout time.Duration
}

type Worker struct {
	store    storage.ObjectStore
	engine   transcode.Engine
	queue    Queue
	notifier notify.Dispatcher
	leases   lifecycle.Leases
	opts     Options
	logger   *slog.Logger
}

func New(store storage.ObjectStore, engine transcode.Engine, q Queue, notifier notify.Dispatcher, leases lifecycle.Leases, opts Options, logger *slog.Logger) *Worker {
	if opts.URLTTL <= 0 {
		opts.URLTTL = time.Hour
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Worker{
		store:    store,
		engine:   engine,
		queue:    q,
		notifier: notifier,
		leases:   leases,
		opts:     opts,
		logger:   logger,
	}
}

// Run pulls and executes jobs one at a time until ctx is cancelled. A job
// that has started runs to completion even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context, slot int) error {
	logger := w.logger.With(slog.Int("slot", slot))
	logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker shutting down")
			return nil
		default:
		}

		d, err := w.queue.Dequeue(ctx, w.opts.PollTimeout)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if errors.Is(err, queue.ErrMalformedJob) {
			logger.Warn("Dropped malformed job", slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("Queue error", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		w.handle(context.WithoutCancel(ctx), d, logger)
	}
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery, logger *slog.Logger) {
	job := d.Job
	logger = logger.With(slog.String("job_id", job.ID))

	defer func() {
		if err := w.queue.Ack(ctx, d); err != nil {
			logger.Error("Failed to ack job", slog.String("error", err.Error()))
		}
	}()

	applied, err := w.queue.SetResult(ctx, job.ID, jobs.Result{Status: jobs.StatusRunning})
	if err != nil {
		logger.Error("Failed to mark job running", slog.String("error", err.Error()))
		return
	}
	if !applied {
		logger.Warn("Job already terminal, skipping")
		return
	}

	metrics.ActiveJobs.Inc()
	result := w.safeExecute(ctx, job, logger)
	metrics.ActiveJobs.Dec()

	applied, err = w.queue.SetResult(ctx, job.ID, result)
	if err != nil {
		logger.Error("Failed to publish result", slog.String("error", err.Error()))
		return
	}
	if !applied {
		// the record went terminal without us, usually stale recovery
		logger.Warn("Job result superseded", slog.String("status", string(result.Status)))
		if result.Status == jobs.StatusSucceeded {
			if err := w.store.Delete(ctx, storage.Converted, result.OutputName); err != nil {
				logger.Warn("Failed to remove superseded artifact", slog.String("error", err.Error()))
			}
		}
		return
	}
	metrics.JobsCompleted.WithLabelValues(string(result.Status)).Inc()

	if result.Status == jobs.StatusSucceeded {
		if err := w.store.Delete(ctx, storage.Uploads, job.UploadName); err != nil {
			logger.Warn("Failed to delete upload", slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) safeExecute(ctx context.Context, job jobs.Job, logger *slog.Logger) (result jobs.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", slog.Any("panic", r))
			result = jobs.Failed(fmt.Sprintf("internal error: %v", r))
		}
	}()
	return w.Execute(ctx, job)
}

// Execute converts one job and returns its terminal result. Notification
// failures are logged and never change the result.
func (w *Worker) Execute(ctx context.Context, job jobs.Job) jobs.Result {
	logger := w.logger.With(slog.String("job_id", job.ID))
	start := time.Now()

	if w.leases != nil && w.opts.LeaseTTL > 0 {
		if err := w.leases.Acquire(ctx, storage.Uploads, job.UploadName, w.opts.LeaseTTL); err != nil {
			logger.Warn("Failed to refresh upload lease", slog.String("error", err.Error()))
		}
		defer func() {
			if err := w.leases.Release(ctx, storage.Uploads, job.UploadName); err != nil {
				logger.Warn("Failed to release upload lease", slog.String("error", err.Error()))
			}
		}()
	}

	outputName, url, err := w.convert(ctx, job)
	if err != nil {
		logger.Error("Job failed",
			slog.String("upload", job.UploadName),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return jobs.Failed(err.Error())
	}

	logger.Info("Job succeeded",
		slog.String("output", outputName),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if job.NotifyAddress != "" {
		if err := w.notifier.Send(ctx, job.NotifyAddress, notify.MessageBody(url, w.opts.URLTTL)); err != nil {
			metrics.NotificationFailures.Inc()
			logger.Warn("Failed to send notification", slog.String("error", err.Error()))
		}
	}

	return jobs.Succeeded(outputName, url)
}

func (w *Worker) convert(ctx context.Context, job jobs.Job) (string, string, error) {
	dir, err := os.MkdirTemp(w.opts.WorkDir, "job-*")
	if err != nil {
		return "", "", fmt.Errorf("%w: create work dir: %v", ErrStorageFailure, err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input"+filepath.Ext(job.UploadName))
	if err := w.store.Download(ctx, storage.Uploads, job.UploadName, input); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", fmt.Errorf("%w: %s no longer exists", ErrMissingInput, storage.Uploads.Key(job.UploadName))
		}
		return "", "", fmt.Errorf("%w: download %s: %v", ErrStorageFailure, job.UploadName, err)
	}

	outputName := job.OutputName()
	output := filepath.Join(dir, outputName)
	params := transcode.Params{Format: job.Format, Quality: transcode.QualityParam(job.Compression)}

	if err := w.runEngine(ctx, input, output, params); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	if err := w.upload(ctx, output, outputName, job.Format); err != nil {
		return "", "", fmt.Errorf("%w: store %s: %v", ErrStorageFailure, outputName, err)
	}

	url, err := w.store.PresignedGetURL(ctx, storage.Converted, outputName, w.opts.URLTTL)
	if err != nil {
		// a converted artifact must not outlive a failed job
		if delErr := w.store.Delete(ctx, storage.Converted, outputName); delErr != nil {
			w.logger.Warn("Failed to remove unpublished artifact", slog.String("key", storage.Converted.Key(outputName)), slog.String("error", delErr.Error()))
		}
		return "", "", fmt.Errorf("%w: presign %s: %v", ErrStorageFailure, outputName, err)
	}

	return outputName, url, nil
}

func (w *Worker) runEngine(ctx context.Context, input, output string, params transcode.Params) error {
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := w.engine.Transcode(ctx, input, output, params)
	metrics.TranscodeDuration.Observe(time.Since(start).Seconds())
	return err
}

func (w *Worker) upload(ctx context.Context, path, name string, format jobs.Format) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return w.store.Put(ctx, storage.Converted, name, f, info.Size(), storage.ContentType(string(format)))
}
