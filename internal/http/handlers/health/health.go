package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/queue"
	"github.com/princekumarofficial/transcode-nexus/internal/utils/response"
)

// Backend is the queue backend the service depends on.
type Backend interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (queue.Stats, error)
}

type Report struct {
	Status         string       `json:"status"`
	RedisConnected bool         `json:"redis_connected"`
	Queue          *queue.Stats `json:"queue,omitempty"`
}

// Handler reports whether the queue backend is reachable
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} Report
// @Failure 503 {object} Report
// @Router /healthz [get]
func Handler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := backend.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			response.WriteJSON(w, http.StatusServiceUnavailable, Report{Status: "unavailable"})
			return
		}

		report := Report{Status: "ok", RedisConnected: true}
		if stats, err := backend.Stats(ctx); err == nil {
			report.Queue = &stats
		}

		response.WriteJSON(w, http.StatusOK, report)
	}
}
