package handler

import (
	"context"
	"net/http"
	"time"

	"rsvp/internal/reservations/repository"
	httputil "rsvp/pkg/http"
	"rsvp/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

type HealthResponse struct {
	Status string         `json:"status"`
	Store  string         `json:"store,omitempty"`
	Stats  map[string]any `json:"stats,omitempty"`
}

// StatsFunc reports counters of one running component for /ready.
type StatsFunc func() any

type HealthHandler struct {
	store  repository.HealthChecker
	driver string
	stats  map[string]StatsFunc
	log    *logger.Logger
}

func NewHealthHandler(store repository.HealthChecker, driver string, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		driver: driver,
		stats:  make(map[string]StatsFunc),
		log:    log,
	}
}

// WithStats exposes a component's counters under name on /ready.
func (h *HealthHandler) WithStats(name string, fn StatsFunc) *HealthHandler {
	h.stats[name] = fn
	return h
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Health", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error("Store health check failed",
			"driver", h.driver,
			"error", err,
			"path", r.URL.Path,
		)
		if writeErr := httputil.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Store:  "error",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	resp := HealthResponse{
		Status: "ready",
		Store:  h.driver,
	}
	if len(h.stats) > 0 {
		resp.Stats = make(map[string]any, len(h.stats))
		for name, fn := range h.stats {
			resp.Stats[name] = fn()
		}
	}

	if err := httputil.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
