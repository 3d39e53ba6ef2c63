package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mediafetch/backend/internal/db"
	apperrors "github.com/mediafetch/backend/internal/errors"
)

type CreateKeyRequest struct {
	Name string `json:"name"`
}

type CreateKeyResponse struct {
	Key       string    `json:"key"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// Handlers exposes key management to admins
type Handlers struct {
	authService *Service
}

func NewHandlers(authService *Service) *Handlers {
	return &Handlers{authService: authService}
}

// CreateKey handles POST /api/v1/admin/keys
func (h *Handlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Name == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("name is required"))
		return
	}

	plaintext, key, err := h.authService.CreateKey(r.Context(), req.Name)
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to create API key").WithCause(err))
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusCreated, CreateKeyResponse{
		Key:       plaintext,
		ID:        key.ID.String(),
		Name:      key.Name,
		Prefix:    key.Prefix,
		CreatedAt: key.CreatedAt,
	})
}

// ListKeys handles GET /api/v1/admin/keys
func (h *Handlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	keys, err := h.authService.ListKeys(r.Context())
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to list API keys").WithCause(err))
		return
	}
	if keys == nil {
		keys = []*db.APIKey{}
	}
	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]any{"keys": keys})
}

// RevokeKey handles DELETE /api/v1/admin/keys/{id}
func (h *Handlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("invalid key id"))
		return
	}

	if err := h.authService.RevokeKey(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrAPIKeyNotFound) {
			apperrors.WriteError(w, requestID, apperrors.NotFound("API key"))
			return
		}
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to revoke API key").WithCause(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
