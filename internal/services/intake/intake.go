// Package intake validates submissions, stores uploads and enqueues
// conversion jobs. It also answers status queries.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/princekumarofficial/transcode-nexus/internal/lifecycle"
	"github.com/princekumarofficial/transcode-nexus/internal/metrics"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
	"github.com/princekumarofficial/transcode-nexus/internal/transcode"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

const maxNameAttempts = 5

// Queue is the part of the job queue intake depends on.
type Queue interface {
	Enqueue(ctx context.Context, job jobs.Job) (string, error)
	GetResult(ctx context.Context, id string) (jobs.Result, error)
	ReserveNames(ctx context.Context, ttl time.Duration, keys ...string) (bool, error)
}

// Sweeper runs the retention sweep over every namespace.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

type Options struct {
	MaxUploadSize     int64
	AllowedExtensions []string
	DefaultFormat     jobs.Format
	// LeaseTTL protects a stored upload from the sweep until a worker picks it up.
	LeaseTTL  time.Duration
	Retention time.Duration
}

// SubmitRequest is one upload as received from a client.
type SubmitRequest struct {
	Filename    string
	Size        int64
	Body        io.Reader
	Format      string
	Compression string
	Email       string `validate:"omitempty,email"`
}

type Service struct {
	store    storage.ObjectStore
	queue    Queue
	sweeper  Sweeper
	leases   lifecycle.Leases
	opts     Options
	allowed  map[string]bool
	validate *validator.Validate
}

func NewService(store storage.ObjectStore, q Queue, sweeper Sweeper, leases lifecycle.Leases, opts Options) *Service {
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = jobs.FormatAVI
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 100 << 20
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * time.Minute
	}
	allowed := make(map[string]bool, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Service{
		store:    store,
		queue:    q,
		sweeper:  sweeper,
		leases:   leases,
		opts:     opts,
		allowed:  allowed,
		validate: validator.New(),
	}
}

// Submit validates the request, stores the upload and enqueues a PENDING
// job. It never waits for the conversion.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*jobs.Handle, error) {
	if s.sweeper != nil {
		if n, err := s.sweeper.SweepAll(ctx); err != nil {
			slog.Warn("retention sweep incomplete", slog.Int("deleted", n), slog.String("error", err.Error()))
		} else if n > 0 {
			slog.Info("retention sweep", slog.Int("deleted", n))
		}
	}

	job, err := s.validateRequest(req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			metrics.JobsRejected.WithLabelValues(verr.Field).Inc()
		}
		return nil, err
	}

	name, err := s.reserveName(ctx, job.UploadName, job.Format)
	if err != nil {
		return nil, err
	}
	job.UploadName = name

	if err := s.store.Put(ctx, storage.Uploads, name, req.Body, req.Size, storage.ContentType(extension(name))); err != nil {
		return nil, fmt.Errorf("failed to store upload %s: %w", name, err)
	}

	if s.leases != nil {
		if err := s.leases.Acquire(ctx, storage.Uploads, name, s.opts.LeaseTTL); err != nil {
			slog.Warn("failed to lease upload", slog.String("upload", name), slog.String("error", err.Error()))
		}
	}

	id, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		if delErr := s.store.Delete(ctx, storage.Uploads, name); delErr != nil {
			slog.Warn("failed to remove orphaned upload", slog.String("upload", name), slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsSubmitted.WithLabelValues(string(job.Format)).Inc()
	slog.Info("job submitted",
		slog.String("job_id", id),
		slog.String("upload", name),
		slog.String("format", string(job.Format)))

	return &jobs.Handle{JobID: id}, nil
}

// Status is a pure read of the job record.
func (s *Service) Status(ctx context.Context, id string) (jobs.Result, error) {
	if strings.TrimSpace(id) == "" {
		return jobs.Result{Status: jobs.StatusNotFound}, nil
	}
	return s.queue.GetResult(ctx, id)
}

func (s *Service) validateRequest(req SubmitRequest) (jobs.Job, error) {
	if req.Body == nil || req.Filename == "" {
		return jobs.Job{}, invalid("video", ErrMissingFile, "no video file in request")
	}

	name := SanitizeFilename(req.Filename)
	ext := extension(name)
	if ext == "" || !s.allowed[ext] {
		return jobs.Job{}, invalid("video", ErrUnsupportedFormat, "file extension %q is not allowed", ext)
	}

	if req.Size <= 0 {
		return jobs.Job{}, invalid("video", ErrMissingFile, "uploaded file is empty")
	}
	if req.Size > s.opts.MaxUploadSize {
		return jobs.Job{}, invalid("video", ErrPayloadTooLarge, "file is %d bytes, limit is %d", req.Size, s.opts.MaxUploadSize)
	}

	format := s.opts.DefaultFormat
	if strings.TrimSpace(req.Format) != "" {
		f, ok := jobs.ParseFormat(req.Format)
		if !ok {
			return jobs.Job{}, invalid("format", ErrUnsupportedFormat, "output format %q is not supported", req.Format)
		}
		format = f
	}

	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		// notification is best-effort, so a bad address only loses the notice
		slog.Warn("dropping invalid notification address", slog.String("address", req.Email))
		req.Email = ""
	}

	return jobs.Job{
		UploadName:    name,
		Format:        format,
		Compression:   transcode.ParseCompression(req.Compression),
		NotifyAddress: req.Email,
	}, nil
}

// reserveName claims name together with the converted name it will
// produce, or a suffixed variant of both when another job holds either.
func (s *Service) reserveName(ctx context.Context, name string, format jobs.Format) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	ttl := s.opts.LeaseTTL + s.opts.Retention

	candidate := name
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		ok, err := s.queue.ReserveNames(ctx, ttl,
			storage.Uploads.Key(candidate),
			storage.Converted.Key(jobs.ConvertedName(candidate, format)))
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
		candidate = stem + "-" + uuid.NewString()[:8] + ext
	}

	return "", fmt.Errorf("failed to reserve a unique name for %s", name)
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
