// Package metrics holds the Prometheus collectors shared by the API and the
// workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_jobs_submitted_total",
		Help: "Jobs accepted by intake, by output format",
	}, []string{"format"})
	JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_jobs_rejected_total",
		Help: "Submissions rejected by intake, by reason",
	}, []string{"reason"})
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_jobs_completed_total",
		Help: "Jobs that reached a terminal status",
	}, []string{"status"})
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcode_worker_active_jobs",
		Help: "Number of jobs currently processing on this node",
	})
	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcode_duration_seconds",
		Help:    "Time taken by the codec engine",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	SweepDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_sweep_deleted_total",
		Help: "Artifacts removed by the retention sweep",
	}, []string{"namespace"})
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_notification_failures_total",
		Help: "Completion notifications that could not be delivered",
	})
	RecoveredJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_recovered_jobs_total",
		Help: "Deliveries cleared from the processing list by stale recovery",
	})
)
