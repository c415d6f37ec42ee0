// Package lifecycle enforces the retention window of stored artifacts.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/metrics"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
)

// Manager deletes artifacts older than the retention window. Sweeps only
// ever delete, so concurrent or repeated sweeps are safe.
type Manager struct {
	store     storage.ObjectStore
	leases    Leases
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLeases makes the sweep skip leased artifacts.
func WithLeases(l Leases) Option {
	return func(m *Manager) {
		m.leases = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used for per-object failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(store storage.ObjectStore, retention time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sweep deletes every artifact in ns whose age is strictly greater than
// ageLimit and returns how many were removed. A failure on one object does
// not stop the sweep; all failures are returned together.
func (m *Manager) Sweep(ctx context.Context, ns storage.Namespace, ageLimit time.Duration) (int, error) {
	objects, err := m.store.List(ctx, ns)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", ns, err)
	}

	now := m.now()
	deleted := 0
	var errs []error

	for _, obj := range objects {
		if now.Sub(obj.ModTime) <= ageLimit {
			continue
		}

		if m.leases != nil {
			leased, err := m.leases.Leased(ctx, ns, obj.Name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if leased {
				m.logger.Debug("skipping leased artifact", slog.String("key", ns.Key(obj.Name)))
				continue
			}
		}

		if err := m.store.Delete(ctx, ns, obj.Name); err != nil {
			m.logger.Warn("failed to delete expired artifact", slog.String("key", ns.Key(obj.Name)), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("delete %s: %w", ns.Key(obj.Name), err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		metrics.SweepDeleted.WithLabelValues(string(ns)).Add(float64(deleted))
	}

	return deleted, errors.Join(errs...)
}

// SweepAll sweeps every namespace with the configured retention.
func (m *Manager) SweepAll(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, ns := range storage.Namespaces {
		n, err := m.Sweep(ctx, ns, m.retention)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
