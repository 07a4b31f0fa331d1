// Package api serves the emotion bridge over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/intervue/moodline/internal/logging"
	"github.com/intervue/moodline/internal/store"
	"github.com/intervue/moodline/internal/types"
	"github.com/rs/zerolog"
)

// maxFrameBytes bounds a posted frame; a 1080p JPEG data URL is well under this.
const maxFrameBytes = 10 << 20

// Detector is the detection surface the handlers need.
type Detector interface {
	Detect(ctx context.Context, image string) types.Result
	Health() types.Health
}

// SampleStore persists per-session detection results.
type SampleStore interface {
	RecordSample(ctx context.Context, sessionID string, res types.Result) error
	SessionSummary(ctx context.Context, sessionID string) (types.SessionSummary, error)
}

// Handler holds the HTTP handlers. samples may be nil, in which case frames
// are not recorded and session summaries answer 404.
type Handler struct {
	detector Detector
	samples  SampleStore
	log      zerolog.Logger
}

func NewHandler(d Detector, samples SampleStore) *Handler {
	return &Handler{
		detector: d,
		samples:  samples,
		log:      logging.Component("api"),
	}
}

// FrameRequest is the body of POST /api/emotion/frame.
type FrameRequest struct {
	Image     string `json:"image"`
	SessionID string `json:"sessionId,omitempty"`
}

// FrameResponse always carries success=true; detection problems travel in
// Error so the UI keeps polling.
type FrameResponse struct {
	Success         bool             `json:"success"`
	Faces           []types.FaceBox  `json:"faces"`
	DominantEmotion *string          `json:"dominantEmotion"`
	Frame           *types.FrameSize `json:"frame,omitempty"`
	Error           string           `json:"error,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// Frame runs one webcam frame through the detector.
func (h *Handler) Frame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)

	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON with an image field")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		respondError(w, http.StatusBadRequest, "MISSING_IMAGE", "Missing image")
		return
	}

	res := h.detector.Detect(r.Context(), req.Image)

	if req.SessionID != "" && h.samples != nil && res.Error == "" {
		if err := h.samples.RecordSample(r.Context(), req.SessionID, res); err != nil {
			h.log.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to record emotion sample")
		}
	}

	respondJSON(w, http.StatusOK, FrameResponse{
		Success:         true,
		Faces:           res.Faces,
		DominantEmotion: res.DominantEmotion,
		Frame:           res.Frame,
		Error:           res.Error,
	})
}

// Health reports the worker snapshot. It is 200 even when detection is
// disabled; the body says why.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.detector.Health())
}

// SessionEmotions returns the emotion distribution recorded for a session.
func (h *Handler) SessionEmotions(w http.ResponseWriter, r *http.Request) {
	if h.samples == nil {
		respondError(w, http.StatusNotFound, "NO_STORE", "Session storage is not configured")
		return
	}
	id := chi.URLParam(r, "sessionID")

	sum, err := h.samples.SessionSummary(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No samples recorded for session")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("failed to load session summary")
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load session summary")
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Success: false, Code: code, Error: message})
}
