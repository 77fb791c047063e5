package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/service"
)

type CommentHandler struct {
	commentService *service.CommentService
}

func NewCommentHandler(commentService *service.CommentService) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
	}
}

type createCommentRequest struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Content    string `json:"content"`
	ChangeType string `json:"change_type"`
}

// POST /api/comments
func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req createCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, apperrors.MissingRequired("session_id"))
		return
	}
	if req.UserID == "" {
		writeError(w, apperrors.MissingRequired("user_id"))
		return
	}

	comment, err := h.commentService.Create(r.Context(), model.CreateCommentParams{
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Content:    req.Content,
		ChangeType: req.ChangeType,
	})
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("sessionId", req.SessionID).Msg("failed to create comment")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, comment)
}

// GET /api/comments?change_type=
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	changeType := r.URL.Query().Get("change_type")

	comments, err := h.commentService.List(r.Context(), changeType, limit, offset)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Msg("failed to list comments")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// GET /api/comments/{sessionId}
func (h *CommentHandler) GetComment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}

	comment, err := h.commentService.FindBySessionID(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to get comment")
		writeError(w, err)
		return
	}
	if comment == nil {
		writeError(w, apperrors.NotFound("comment"))
		return
	}

	writeJSON(w, http.StatusOK, comment)
}

// GET /api/change-types
func (h *CommentHandler) ListChangeTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"change_types": model.ChangeTypes})
}
