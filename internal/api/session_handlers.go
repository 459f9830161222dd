package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/trackduel/internal/duel"
	"github.com/onnwee/trackduel/internal/middleware"
	"github.com/onnwee/trackduel/internal/session"
)

// SessionRanker runs a ranking pass over one session.
type SessionRanker interface {
	Rank(ctx context.Context, sessionID string) (*session.Result, error)
}

// SessionHandlers holds dependencies for session HTTP handlers.
type SessionHandlers struct {
	ranker SessionRanker
}

// NewSessionHandlers creates a new SessionHandlers instance.
func NewSessionHandlers(ranker SessionRanker) *SessionHandlers {
	return &SessionHandlers{ranker: ranker}
}

// Rank handles POST /v1/sessions/{id}/rank - recomputes strengths and
// ratings for every song in the session from its full comparison history
// and returns the new ordering with a convergence score.
func (h *SessionHandlers) Rank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	sessionID, ok := sessionIDFromPath(r.URL.Path)
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Session ID is required")
		return
	}

	result, err := h.ranker.Rank(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, duel.ErrSessionNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeSessionNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeSessionNotFound, "Session not found")
			return
		}
		slog.ErrorContext(r.Context(), "session ranking failed", "error", err, "session_id", sessionID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to rank session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode ranking response", "error", err)
	}
}

// sessionIDFromPath extracts the session ID from /v1/sessions/{id}/rank.
func sessionIDFromPath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/v1/sessions/")
	if trimmed == path {
		return "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "rank" {
		return "", false
	}
	return parts[0], true
}
