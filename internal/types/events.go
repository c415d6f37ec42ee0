package types

import (
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

// EventType represents the type of real-time event
type EventType string

const (
	EventJobStatus EventType = "job.status"
)

// Event represents a real-time event that can be sent over WebSocket
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// JobStatusEvent is published every time a job record changes state.
type JobStatusEvent struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
	URL    string      `json:"url,omitempty"`
	Error  string      `json:"error,omitempty"`

	// UpdatedAt orders events of the same job.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewJobStatusEvent wraps a job status change in an Event.
func NewJobStatusEvent(jobID string, r jobs.Result) *Event {
	return NewEvent(EventJobStatus, &JobStatusEvent{
		JobID:     jobID,
		Status:    r.Status,
		URL:       r.URL,
		Error:     r.Error,
		UpdatedAt: r.UpdatedAt,
	})
}
