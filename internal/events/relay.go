// Package events relays job status changes published in Redis to the
// websocket clients connected to this instance.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

// WebSocketHub interface for the WebSocket hub
type WebSocketHub interface {
	BroadcastToJob(jobID string, payload []byte, final bool, updatedAt time.Time)
	IsJobWatched(jobID string) bool
}

// Channels maps Redis channel names to job IDs.
type Channels interface {
	EventsPattern() string
	JobIDFromChannel(channel string) string
}

// Relay forwards status events from every API instance's shared Redis to
// the local hub.
type Relay struct {
	rdb      *redis.Client
	channels Channels
	hub      WebSocketHub
}

func NewRelay(rdb *redis.Client, channels Channels, hub WebSocketHub) *Relay {
	return &Relay{
		rdb:      rdb,
		channels: channels,
		hub:      hub,
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.rdb.PSubscribe(ctx, r.channels.EventsPattern())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	slog.Info("Relaying job status events", slog.String("pattern", r.channels.EventsPattern()))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(msg)
		}
	}
}

func (r *Relay) forward(msg *redis.Message) {
	jobID := r.channels.JobIDFromChannel(msg.Channel)
	if !r.hub.IsJobWatched(jobID) {
		return
	}

	var event struct {
		Data struct {
			Status    jobs.Status `json:"status"`
			UpdatedAt time.Time   `json:"updated_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		slog.Warn("Dropping malformed status event", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}

	r.hub.BroadcastToJob(jobID, []byte(msg.Payload), event.Data.Status.Terminal(), event.Data.UpdatedAt)
}
