package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/service"
)

// QueryHandler serves the remaining read-only lookups.
type QueryHandler struct {
	queryService *service.QueryService
}

func NewQueryHandler(queryService *service.QueryService) *QueryHandler {
	return &QueryHandler{
		queryService: queryService,
	}
}

// GET /api/current-editors?path=
func (h *QueryHandler) CurrentEditors(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apperrors.MissingRequired("path"))
		return
	}

	editors, err := h.queryService.CurrentEditors(r.Context(), path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to list current editors")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"editors": editors})
}

// GET /api/multi-user-files
func (h *QueryHandler) MultiUserFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.queryService.MultiUserFiles(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list multi-user files")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// GET /api/user-activity/{username}
func (h *QueryHandler) UserActivity(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		writeError(w, apperrors.MissingRequired("username"))
		return
	}

	sessions, err := h.queryService.UserActivity(r.Context(), username)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("username", username).Msg("failed to get user activity")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /api/users
func (h *QueryHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.queryService.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list users")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// PUT /api/users/{userID}/username
func (h *QueryHandler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, apperrors.MissingRequired("user_id"))
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.queryService.UpdateUsername(r.Context(), userID, req.Username)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("userId", userID).Msg("failed to update username")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GET /api/files
func (h *QueryHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.queryService.ListFiles(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list files")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// GET /api/events
func (h *QueryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 100)

	events, err := h.queryService.ListEvents(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list events")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
