package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mediafetch/backend/internal/auth"
	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API keys, not cookies, authenticate the socket
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobSubscriber is the part of the job service the handler needs
type JobSubscriber interface {
	Subscribe(ctx context.Context, apiKeyID string) (*jobs.Subscription, error)
}

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	hub  *Hub
	jobs JobSubscriber
}

// NewHandler creates a new WebSocket handler. jobs may be nil when async
// jobs are disabled.
func NewHandler(hub *Hub, jobs JobSubscriber) *Handler {
	return &Handler{hub: hub, jobs: jobs}
}

// ServeWS must run behind auth.APIKeyMiddleware. Browsers pass the key as
// ?key=mfk_... since they cannot set headers on the handshake.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	key := auth.GetKeyFromContext(r.Context())
	if key == nil {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.Unauthorized("missing API key"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(r.Context(), "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := NewClient(h.hub, conn, key.ID)
	if !h.hub.add(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		if h.jobs != nil {
			go h.forwardJobs(ctx, key.ID)
		}
		client.ReadPump()
		cancel()
	}()
}

// forwardJobs relays the key's job updates into the hub until ctx is done
func (h *Handler) forwardJobs(ctx context.Context, keyID string) {
	sub, err := h.jobs.Subscribe(ctx, keyID)
	if err != nil {
		log.Error(ctx, "job subscription failed", err, map[string]any{"api_key_id": keyID})
		return
	}
	defer sub.Close()

	updates := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-updates:
			if !ok {
				return
			}
			h.hub.Publish(&Message{Type: TypeJob, APIKeyID: keyID, Job: job, At: time.Now()})
		}
	}
}

// Hub returns the hub instance.
func (h *Handler) Hub() *Hub {
	return h.hub
}
