// Package agentapi is the tracker's local HTTP surface: the authority
// calls it to sync state back down.
package agentapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/httputil"
	"github.com/editwatch/session-server-go/internal/middleware"
	"github.com/editwatch/session-server-go/internal/tracker"
)

type Server struct {
	tracker   *tracker.Tracker
	trackerID string
}

func NewServer(t *tracker.Tracker, trackerID string) *Server {
	return &Server{tracker: t, trackerID: trackerID}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)

	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/close-session", s.closeSession)
		r.Post("/comment-created", s.commentCreated)
		r.Get("/active-sessions", s.activeSessions)
		r.Get("/health", s.health)
	})
	return r
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// POST /api/agent/close-session
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	if !s.tracker.CloseSession(req.SessionID) {
		// Already closed locally; the authority just wants it gone.
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "not_active"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// POST /api/agent/comment-created
func (s *Server) commentCreated(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	if !s.tracker.MarkCommented(req.SessionID) {
		log.Debug().Str("sessionId", req.SessionID).Msg("comment for unknown local session")
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "unknown_session"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "retired"})
}

// GET /api/agent/active-sessions
func (s *Server) activeSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.tracker.ActiveSessions()

	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"session_id":    sess.ID,
			"file_path":     sess.FilePath,
			"username":      sess.User,
			"last_activity": sess.LastActivity.UTC().Format(time.RFC3339),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GET /api/agent/health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	stats := s.tracker.Stats()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"tracker_id": s.trackerID,
		"active":     stats.Active,
		"closed":     stats.Closed,
	})
}

func (s *Server) decodeSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, bool) {
	var req sessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return req, false
	}
	if req.SessionID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("session_id"))
		return req, false
	}
	return req, true
}
