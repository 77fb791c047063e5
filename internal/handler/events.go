package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/service"
)

// EventHandler is the ingest boundary: trackers POST normalized
// lifecycle events here.
type EventHandler struct {
	reconcileService *service.ReconcileService
}

func NewEventHandler(reconcileService *service.ReconcileService) *EventHandler {
	return &EventHandler{
		reconcileService: reconcileService,
	}
}

// POST /api/events
func (h *EventHandler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.TrackerEvent
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.reconcileService.ProcessEvent(r.Context(), &ev)
	if err != nil {
		log.Error().Err(err).
			Str("eventType", string(ev.EventType)).
			Str("filePath", ev.FilePath).
			Str("user", ev.UserID).
			Msg("failed to process event")
		writeError(w, err)
		return
	}

	if session == nil {
		// Legal no-op (e.g. double close). The tracker must not retry.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "processed",
		"session": session,
	})
}
