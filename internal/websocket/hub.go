// Package websocket pushes live extraction attempts and job updates to
// clients, routed by API key.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mediafetch/backend/internal/jobs"
	"github.com/mediafetch/backend/internal/logger"
)

var log = logger.WithComponent("websocket")

// Message types
const (
	TypeAttempt = "attempt"
	TypeJob     = "job"
)

// AttemptEvent describes one finished extraction attempt
type AttemptEvent struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	Success   bool   `json:"success"`
	Grade     string `json:"grade"`
	Code      string `json:"code,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Message is one frame sent to a client
type Message struct {
	Type     string        `json:"type"`
	APIKeyID string        `json:"-"` // used for routing only
	Attempt  *AttemptEvent `json:"attempt,omitempty"`
	Job      *jobs.Job     `json:"job,omitempty"`
	At       time.Time     `json:"at"`
}

// Hub maintains the set of active clients and routes messages to them.
type Hub struct {
	// Registered clients by API key ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	// done is closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for key, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.keyID] == nil {
				h.clients[client.keyID] = make(map[*Client]bool)
			}
			h.clients[client.keyID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Warn(ctx, "failed to encode message", map[string]any{"error": err.Error()})
				continue
			}
			h.mu.Lock()
			for client := range h.clients[message.APIKeyID] {
				select {
				case client.send <- data:
				default:
					// slow client; drop it
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers a client unless the hub has stopped
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// drop unregisters a client unless the hub has stopped
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// remove unregisters a client; callers hold mu
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.keyID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.keyID)
	}
}

// Publish queues a message for the clients of msg.APIKeyID. Messages for
// keys without clients, or sent while the hub is backed up, are dropped.
func (h *Hub) Publish(msg *Message) {
	if msg.APIKeyID == "" || h.ClientCount(msg.APIKeyID) == 0 {
		return
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected clients for a key.
func (h *Hub) ClientCount(keyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[keyID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
