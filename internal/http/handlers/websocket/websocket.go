package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/princekumarofficial/transcode-nexus/internal/types"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
	wsClient "github.com/princekumarofficial/transcode-nexus/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// status pages may be served from any origin
		return true
	},
}

// StatusReader returns the current status of a job.
type StatusReader interface {
	Status(ctx context.Context, id string) (jobs.Result, error)
}

// JobEvents streams status changes of one job
// @Summary Subscribe to job status changes
// @Description Upgrades to a websocket. The current status is sent first, then every change; the server closes the socket after a terminal status.
// @Tags jobs
// @Param job_id path string true "Job ID"
// @Router /jobs/{job_id}/events [get]
func JobEvents(hub *wsClient.Hub, statuses StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("job_id")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("Failed to upgrade WebSocket connection", slog.String("error", err.Error()))
			return
		}

		client := wsClient.NewClient(conn, jobID, hub)
		hub.RegisterClient(client)
		client.Start()

		// registered before reading, so no change between the two is lost
		current, err := statuses.Status(r.Context(), jobID)
		if err != nil {
			slog.Error("Failed to read job status", slog.String("job_id", jobID), slog.String("error", err.Error()))
			current = jobs.Result{Status: jobs.StatusNotFound}
		}

		payload, err := json.Marshal(types.NewJobStatusEvent(jobID, current))
		if err != nil {
			slog.Error("Failed to encode job status", slog.String("error", err.Error()))
			return
		}

		final := current.Status.Terminal() || current.Status == jobs.StatusNotFound
		hub.SendTo(client, payload, final, current.UpdatedAt)

		slog.Info("WebSocket connection established", slog.String("job_id", jobID))
	}
}
