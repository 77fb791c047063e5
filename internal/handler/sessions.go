package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/service"
)

type SessionHandler struct {
	queryService *service.QueryService
}

func NewSessionHandler(queryService *service.QueryService) *SessionHandler {
	return &SessionHandler{
		queryService: queryService,
	}
}

// GET /api/sessions?active=true
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	sessions, err := h.queryService.ListSessions(r.Context(), activeOnly)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /api/sessions/{id}/details
func (h *SessionHandler) GetSessionDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, apperrors.MissingRequired("id"))
		return
	}

	details, err := h.queryService.SessionDetails(r.Context(), id)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to get session details")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// GET /api/sessions-with-comments
func (h *SessionHandler) ListSessionsWithComments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)

	sessions, err := h.queryService.SessionsWithComments(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list commented sessions")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
