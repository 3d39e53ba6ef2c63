package provider

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/mediafetch/backend/internal/errors"
)

// Handlers exposes the detector over HTTP
type Handlers struct {
	detector *Detector
}

// NewHandlers creates a new Handlers instance
func NewHandlers(detector *Detector) *Handlers {
	return &Handlers{
		detector: detector,
	}
}

// DetectRequest is the request body for URL detection
type DetectRequest struct {
	URL string `json:"url"`
}

// Detect handles POST /api/v1/detect
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid JSON body"))
		return
	}
	h.writeDetection(w, requestID, req.URL)
}

// DetectQuery handles GET /api/v1/detect?url=...
func (h *Handlers) DetectQuery(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())
	h.writeDetection(w, requestID, r.URL.Query().Get("url"))
}

func (h *Handlers) writeDetection(w http.ResponseWriter, requestID, rawURL string) {
	if rawURL == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("url is required"))
		return
	}

	result := h.detector.Detect(rawURL)
	status := http.StatusOK
	if !result.Supported {
		status = http.StatusUnprocessableEntity
	}
	apperrors.WriteJSON(w, requestID, status, result)
}
