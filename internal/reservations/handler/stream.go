package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rsvp/internal/reservations/service"
	"rsvp/pkg/broadcast"
	apperrors "rsvp/pkg/errors"
	httputil "rsvp/pkg/http"
	"rsvp/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

const StreamRoute = "/api/v1/events/:id/capacity/stream"

// StreamHandler relays an event's capacity topic to one viewer as
// server-sent events. The stream carries no history: viewers read the
// capacity endpoint after attaching.
type StreamHandler struct {
	hub       *broadcast.Hub
	admission service.AdmissionService
	heartbeat time.Duration
	log       *logger.Logger
}

func NewStreamHandler(hub *broadcast.Hub, admission service.AdmissionService, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{
		hub:       hub,
		admission: admission,
		heartbeat: heartbeat,
		log:       log,
	}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snapshot, err := h.admission.ReadCapacityFresh(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Stream", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	eventID := snapshot.EventID

	sub, err := h.hub.Subscribe(eventID)
	if err != nil {
		if writeErr := httputil.WriteError(w, apperrors.StoreUnavailable("Broadcast channel unavailable", err)); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Stream", "operation", "WriteError", "error", writeErr)
		}
		return
	}
	defer sub.Unsubscribe()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Warn("failed to clear write deadline", "event_id", eventID, "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Headers reach the client only after the subscription is attached, so a
	// resync read issued on receipt cannot miss a fact.
	if _, err := fmt.Fprint(w, ": subscribed\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.log.Error("streaming unsupported", "event_id", eventID, "error", err)
		return
	}

	h.log.Debug("Viewer attached", "event_id", eventID)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug("Viewer detached", "event_id", eventID)
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case fact, ok := <-sub.C():
			if !ok {
				h.log.Info("Viewer stream ended", "event_id", eventID, "reason", sub.Err())
				return
			}
			payload, err := json.Marshal(fact)
			if err != nil {
				h.log.Error("failed to encode capacity fact", "event_id", eventID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: capacity\ndata: %s\n\n", fact.Version, payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET(StreamRoute, h.Stream)
}
