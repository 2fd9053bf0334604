package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/domain"
)

type statusReport struct {
	MessageID string `json:"messageId" validate:"required,max=256"`
	Status    string `json:"status" validate:"required,oneof=sent delivered error timeout unknown"`
}

type statusResponse struct {
	MessageID  string                `json:"messageId"`
	Status     domain.DeliveryStatus `json:"status"`
	CustomerID string                `json:"customerId,omitempty"`
	HTTPStatus int                   `json:"httpStatus,omitempty"`
	UpdatedAt  string                `json:"updatedAt,omitempty"`
}

// handleReportStatus lets the widget record timeout or unknown after it
// stops polling for a confirmation.
func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReport
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, http.StatusBadRequest, "missing messageId or status: "+err.Error())
		return
	}

	status, _ := domain.ParseDeliveryStatus(req.Status)
	s.cfg.Tracker.RecordStatus(req.MessageID, status)
	s.cfg.Metrics.DeliveryUpdates.WithLabelValues(string(status)).Inc()
	s.cfg.Bus.Emit(bus.Event{
		Type:    bus.EventDeliveryUpdated,
		Source:  "client",
		Payload: map[string]any{"message_id": req.MessageID, "status": string(status)},
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	rec, ok := s.cfg.Tracker.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, statusResponse{MessageID: id, Status: domain.StatusUnknown})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		MessageID:  id,
		Status:     rec.Status,
		CustomerID: rec.CustomerID,
		HTTPStatus: rec.HTTPStatus,
		UpdatedAt:  rec.UpdatedAt.UTC().Format(domain.TimestampLayout),
	})
}
