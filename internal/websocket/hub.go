package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub fans job status events out to the clients watching each job.
type Hub struct {
	// Registered clients grouped by job ID
	clients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *JobMessage
	direct     chan *directMessage

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect clients map
	mu sync.RWMutex
}

// JobMessage is an encoded event for every client watching JobID. Clients
// are disconnected after a Final message. A message whose UpdatedAt is not
// newer than what a client already received is skipped for that client.
type JobMessage struct {
	JobID     string
	Payload   []byte
	Final     bool
	UpdatedAt time.Time
}

type directMessage struct {
	client *Client
	msg    *JobMessage
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *JobMessage, 256),
		direct:     make(chan *directMessage, 64),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and disconnects every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for jobID, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, jobID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.jobID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.jobID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			slog.Info("WebSocket client connected", slog.String("job_id", client.jobID))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.remove(client) {
				slog.Info("WebSocket client disconnected", slog.String("job_id", client.jobID))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[message.JobID] {
				h.deliver(client, message)
			}
			h.mu.Unlock()

		case d := <-h.direct:
			h.mu.Lock()
			if _, ok := h.clients[d.client.jobID][d.client]; ok {
				h.deliver(d.client, d.msg)
			}
			h.mu.Unlock()
		}
	}
}

// deliver must be called with mu held.
func (h *Hub) deliver(client *Client, message *JobMessage) {
	if client.delivered && !message.UpdatedAt.After(client.lastUpdate) {
		slog.Debug("Skipping outdated job status", slog.String("job_id", client.jobID))
		return
	}
	client.delivered = true
	client.lastUpdate = message.UpdatedAt

	if !client.enqueue(message.Payload) {
		slog.Warn("WebSocket client too slow, disconnecting", slog.String("job_id", client.jobID))
		h.remove(client)
		return
	}
	if message.Final {
		h.remove(client)
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) bool {
	set, ok := h.clients[client.jobID]
	if !ok {
		return false
	}
	if _, ok := set[client]; !ok {
		return false
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.jobID)
	}
	return true
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToJob sends an encoded event to every client watching jobID.
func (h *Hub) BroadcastToJob(jobID string, payload []byte, final bool, updatedAt time.Time) {
	select {
	case h.broadcast <- &JobMessage{JobID: jobID, Payload: payload, Final: final, UpdatedAt: updatedAt}:
	default:
		slog.Warn("Broadcast channel is full, dropping message", slog.String("job_id", jobID))
	}
}

// SendTo sends an encoded event to a single registered client.
func (h *Hub) SendTo(client *Client, payload []byte, final bool, updatedAt time.Time) {
	msg := &JobMessage{JobID: client.jobID, Payload: payload, Final: final, UpdatedAt: updatedAt}
	select {
	case h.direct <- &directMessage{client: client, msg: msg}:
	case <-h.done:
	}
}

// IsJobWatched reports whether any client is watching jobID.
func (h *Hub) IsJobWatched(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[jobID]) > 0
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
