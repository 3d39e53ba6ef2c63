package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/methodhealth"
	"github.com/mediafetch/backend/internal/resolver"
	"github.com/mediafetch/backend/internal/storage"
)

// CookieStore manages per-platform cookies
type CookieStore interface {
	Set(ctx context.Context, p media.ProviderID, cookies string) error
	Configured(ctx context.Context) map[media.ProviderID]bool
}

// SnapshotReader reads diagnostic snapshots back from object storage
type SnapshotReader interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error)
	List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error)
}

// AdminHandlers serve the operator endpoints. Cookies and Snapshots may be
// nil when the backing store is not configured.
type AdminHandlers struct {
	resolver  Resolver
	health    *methodhealth.Checker
	cookies   CookieStore
	snapshots SnapshotReader
}

func NewAdminHandlers(r Resolver, health *methodhealth.Checker, cookies CookieStore, snapshots SnapshotReader) *AdminHandlers {
	return &AdminHandlers{resolver: r, health: health, cookies: cookies, snapshots: snapshots}
}

// MethodStatus is one method with its breaker stats
type MethodStatus struct {
	Provider media.ProviderID `json:"provider"`
	Priority int              `json:"priority"`
	methodhealth.Stats
}

// ListMethods handles GET /api/v1/admin/methods
func (h *AdminHandlers) ListMethods(w http.ResponseWriter, r *http.Request) {
	var out []MethodStatus
	for _, p := range h.resolver.Providers() {
		for i, name := range p.Methods {
			stats, _ := h.health.Stats(name)
			out = append(out, MethodStatus{Provider: p.Provider, Priority: i + 1, Stats: stats})
		}
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"methods": lo.Ternary(out == nil, []MethodStatus{}, out)})
}

// ResetMethod handles POST /api/v1/admin/methods/{name}/reset
func (h *AdminHandlers) ResetMethod(w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("name")
	if !h.knownMethod(name) {
		return apperrors.MethodNotFound(name)
	}

	h.health.Reset(name)
	stats, _ := h.health.Stats(name)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, stats)
	return nil
}

func (h *AdminHandlers) knownMethod(name string) bool {
	return lo.ContainsBy(h.resolver.Providers(), func(p resolver.ProviderMethods) bool {
		return lo.Contains(p.Methods, name)
	})
}

// SetCookiesRequest is the body of PUT /api/v1/admin/cookies/{provider}
type SetCookiesRequest struct {
	Cookies string `json:"cookies"`
}

// ListCookies handles GET /api/v1/admin/cookies. Values are never returned.
func (h *AdminHandlers) ListCookies(w http.ResponseWriter, r *http.Request) error {
	if h.cookies == nil {
		return apperrors.ServiceUnavailable("cookie storage is not configured")
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"configured": h.cookies.Configured(r.Context()),
	})
	return nil
}

// SetCookies handles PUT /api/v1/admin/cookies/{provider}. An empty value
// clears the stored cookies.
func (h *AdminHandlers) SetCookies(w http.ResponseWriter, r *http.Request) error {
	if h.cookies == nil {
		return apperrors.ServiceUnavailable("cookie storage is not configured")
	}

	p := media.ProviderID(r.PathValue("provider"))
	if !lo.Contains(media.AllProviders(), p) {
		return apperrors.UnsupportedProvider("unknown provider " + string(p))
	}

	var req SetCookiesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCookieBytes)).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	if err := h.cookies.Set(r.Context(), p, strings.TrimSpace(req.Cookies)); err != nil {
		return apperrors.DatabaseError("failed to store cookies").WithCause(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// ListSnapshots handles GET /api/v1/admin/snapshots?method=&limit=
func (h *AdminHandlers) ListSnapshots(w http.ResponseWriter, r *http.Request) error {
	if h.snapshots == nil {
		return apperrors.ServiceUnavailable("snapshot storage is not configured")
	}

	prefix := storage.SnapshotPrefix
	if m := r.URL.Query().Get("method"); m != "" {
		prefix += m + "/"
	}
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		limit = n
	}

	objects, err := h.snapshots.List(r.Context(), prefix, limit)
	if err != nil {
		return apperrors.StorageError("failed to list snapshots").WithCause(err)
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"snapshots": lo.Ternary(objects == nil, []storage.ObjectInfo{}, objects),
	})
	return nil
}

// GetSnapshot handles GET /api/v1/admin/snapshots/{key...}. Bodies are
// served as plain-text attachments so captured HTML never renders.
func (h *AdminHandlers) GetSnapshot(w http.ResponseWriter, r *http.Request) error {
	if h.snapshots == nil {
		return apperrors.ServiceUnavailable("snapshot storage is not configured")
	}

	key := r.PathValue("key")
	if !strings.HasPrefix(key, storage.SnapshotPrefix) {
		key = storage.SnapshotPrefix + key
	}
	if !storage.ValidSnapshotKey(key) {
		return apperrors.ValidationError("invalid snapshot key")
	}

	body, info, err := h.snapshots.GetObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.SnapshotNotFound()
		}
		return apperrors.StorageError("failed to read snapshot").WithCause(err)
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="snapshot.html"`)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
	return nil
}
