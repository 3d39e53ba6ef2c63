package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mediafetch/backend/internal/adapter"
	"github.com/mediafetch/backend/internal/auth"
	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/resolver"
)

// Resolver is the part of the resolver service the handlers need
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Resolution
	Providers() []resolver.ProviderMethods
}

type ResolveHandlers struct {
	resolver Resolver
}

func NewResolveHandlers(r Resolver) *ResolveHandlers {
	return &ResolveHandlers{resolver: r}
}

// ResolveRequest is the body of POST /api/v1/resolve
type ResolveRequest struct {
	URL       string `json:"url"`
	SkipCache bool   `json:"skip_cache,omitempty"`
}

// Resolve handles POST /api/v1/resolve
func (h *ResolveHandlers) Resolve(w http.ResponseWriter, r *http.Request) error {
	var req ResolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	return h.resolve(w, r, req)
}

// ResolveQuery handles GET /api/v1/resolve?url=...&skip_cache=true
func (h *ResolveHandlers) ResolveQuery(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	skip, _ := strconv.ParseBool(q.Get("skip_cache"))
	return h.resolve(w, r, ResolveRequest{URL: q.Get("url"), SkipCache: skip})
}

func (h *ResolveHandlers) resolve(w http.ResponseWriter, r *http.Request, req ResolveRequest) error {
	if req.URL == "" {
		return apperrors.ValidationError("url is required")
	}

	rr := resolver.Request{URL: req.URL, SkipCache: req.SkipCache}
	if key := auth.GetKeyFromContext(r.Context()); key != nil {
		rr.APIKeyID = key.ID
	}

	res := h.resolver.Resolve(r.Context(), rr)
	if !res.Result.Success {
		return adapter.ToError(res.Result)
	}

	resp := adapter.ToResponse(res.Detection.Provider, res.Detection.MediaID, res.Result, res.Cached)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

// Providers handles GET /api/v1/providers
func (h *ResolveHandlers) Providers(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"providers": h.resolver.Providers(),
	})
}
