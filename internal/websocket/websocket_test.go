package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mediafetch/backend/internal/auth"
	"github.com/mediafetch/backend/internal/media"
)

// withKey stands in for auth.APIKeyMiddleware
func withKey(id string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id != "" {
			r = r.WithContext(auth.WithKey(r.Context(), &auth.KeyContext{ID: id}))
		}
		next(w, r)
	})
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeWS_RequiresKey(t *testing.T) {
	h := NewHandler(startHub(t), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)

	withKey("", h.ServeWS).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAttemptObserver_RoutesByKey(t *testing.T) {
	hub := startHub(t)
	h := NewHandler(hub, nil)

	srvA := httptest.NewServer(withKey("key-a", h.ServeWS))
	defer srvA.Close()
	srvB := httptest.NewServer(withKey("key-b", h.ServeWS))
	defer srvB.Close()

	connA := dial(t, srvA)
	connB := dial(t, srvB)
	waitFor(t, func() bool { return hub.TotalClients() == 2 })

	obs := AttemptObserver(hub)
	ctx := auth.WithKey(context.Background(), &auth.KeyContext{ID: "key-a"})
	obs.AttemptFinished(ctx, "https://youtu.be/dQw4w9WgXcQ", media.Result{
		Method:  "youtube-innertube",
		Err:     media.NewError(media.CodeNetworkError, "reset"),
		Elapsed: 250 * time.Millisecond,
	})
	// no key: nobody receives it
	obs.AttemptFinished(context.Background(), "https://youtu.be/x", media.Result{Method: "youtube-html"})

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeAttempt || msg.Attempt == nil {
		t.Fatalf("unexpected message %s", data)
	}
	if msg.Attempt.Method != "youtube-innertube" || msg.Attempt.Code != "NETWORK_ERROR" || msg.Attempt.ElapsedMs != 250 {
		t.Errorf("unexpected attempt %+v", msg.Attempt)
	}

	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Error("key-b should not receive key-a attempts")
	}
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(withKey("key-c", NewHandler(hub, nil).ServeWS))
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.ClientCount("key-c") == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount("key-c") == 0 })
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := startHub(t)
	// must not block or panic
	for i := 0; i < 1000; i++ {
		hub.Publish(&Message{Type: TypeAttempt, APIKeyID: "nobody"})
	}
	if hub.TotalClients() != 0 {
		t.Error("expected no clients")
	}
}
