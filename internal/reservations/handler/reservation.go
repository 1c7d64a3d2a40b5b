package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"rsvp/internal/reservations/service"
	httputil "rsvp/pkg/http"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type ReservationHandler struct {
	admission service.AdmissionService
	lifecycle service.LifecycleService
	log       *logger.Logger
}

func NewReservationHandler(admission service.AdmissionService, lifecycle service.LifecycleService, log *logger.Logger) *ReservationHandler {
	return &ReservationHandler{
		admission: admission,
		lifecycle: lifecycle,
		log:       log,
	}
}

// decisionStatus maps an admission decision onto its HTTP status.
func decisionStatus(d *service.Decision) int {
	switch d.Outcome {
	case model.OutcomeConfirmed:
		return http.StatusCreated
	case model.OutcomeRejected:
		if d.Reason == model.ReasonEventUnavailable {
			return http.StatusGone
		}
		return http.StatusConflict
	case model.OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}

func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteBadRequest(w, "Invalid request body"); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Reserve", "operation", "WriteBadRequest", "error", writeErr)
		}
		return
	}

	decision, err := h.admission.RequestReservation(r.Context(), req.EventID, req.RequesterID)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Reserve", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteJSON(w, decisionStatus(decision), decision.Response()); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Reserve", "operation", "WriteJSON", "error", err)
	}
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteBadRequest(w, "Invalid request body"); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Cancel", "operation", "WriteBadRequest", "error", writeErr)
		}
		return
	}

	decision, err := h.admission.CancelReservation(r.Context(), req.EventID, req.RequesterID)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Cancel", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteJSON(w, decisionStatus(decision), model.CancellationResponse{Status: decision.Outcome}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Cancel", "operation", "WriteJSON", "error", err)
	}
}

// Capacity serves from the cache unless ?fresh=1 asks for a store read.
func (h *ReservationHandler) Capacity(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	read := h.admission.ReadCapacity
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh {
		read = h.admission.ReadCapacityFresh
	}
	snapshot, err := read(r.Context(), ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Capacity", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if err := httputil.WriteJSON(w, http.StatusOK, model.NewCapacityResponse(snapshot)); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Capacity", "operation", "WriteJSON", "error", err)
	}
}

func (h *ReservationHandler) Reservations(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Reservations", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	rows, active, err := h.admission.ListReservations(r.Context(), ps.ByName("id"), limit, offset)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Reservations", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WritePaginated(w, rows, active, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "Reservations", "operation", "WritePaginated", "error", err)
	}
}

func (h *ReservationHandler) Lifecycle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req model.LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteBadRequest(w, "Invalid request body"); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Lifecycle", "operation", "WriteBadRequest", "error", writeErr)
		}
		return
	}
	req.EventID = ps.ByName("id")

	snapshot, err := h.lifecycle.Apply(r.Context(), &req)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Lifecycle", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteJSON(w, http.StatusOK, model.NewCapacityResponse(snapshot)); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Lifecycle", "operation", "WriteJSON", "error", err)
	}
}

func (h *ReservationHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/reservations", h.Reserve)
	router.DELETE("/api/v1/reservations", h.Cancel)
	router.POST("/api/v1/reservations/cancel", h.Cancel)
	router.GET("/api/v1/events/:id/capacity", h.Capacity)
	router.GET("/api/v1/events/:id/reservations", h.Reservations)
	router.PUT("/api/v1/events/:id/lifecycle", h.Lifecycle)
}
