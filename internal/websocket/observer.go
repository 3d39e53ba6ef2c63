package websocket

import (
	"context"
	"time"

	"github.com/mediafetch/backend/internal/auth"
	"github.com/mediafetch/backend/internal/fallback"
	"github.com/mediafetch/backend/internal/media"
)

// AttemptObserver streams every finished extraction attempt to the sockets
// of the API key that requested it. Attempts without a key are dropped.
func AttemptObserver(hub *Hub) fallback.Observer {
	return fallback.ObserverFunc(func(ctx context.Context, rawURL string, res media.Result) {
		key := auth.GetKeyFromContext(ctx)
		if key == nil {
			return
		}
		hub.Publish(&Message{
			Type:     TypeAttempt,
			APIKeyID: key.ID,
			Attempt: &AttemptEvent{
				URL:       rawURL,
				Method:    res.Method,
				Success:   res.Success,
				Grade:     res.Grade().String(),
				Code:      string(res.Code()),
				ElapsedMs: res.Elapsed.Milliseconds(),
			},
			At: time.Now(),
		})
	})
}
