package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/dms"
	"dmsbridge/internal/domain"
	"dmsbridge/internal/journal"
)

const defaultCustomerName = "Customer"

// advancedPayload lets the widget send non-text outbound messages.
type advancedPayload struct {
	Type        string         `json:"type" validate:"omitempty,max=64"`
	Text        any            `json:"text,omitempty"`
	Attachments []any          `json:"attachments,omitempty"`
	ContextData map[string]any `json:"context_data,omitempty"`
	Postback    string         `json:"postback,omitempty"`
}

type submitRequest struct {
	CustomerID   string           `json:"customerId" validate:"required,max=256"`
	MessageID    string           `json:"messageId" validate:"required,max=256"`
	Text         any              `json:"text"`
	CustomerName string           `json:"customerName" validate:"max=256"`
	Advanced     *advancedPayload `json:"advanced,omitempty"`
}

type submitResponse struct {
	Status        int                      `json:"status"`
	Message       string                   `json:"message,omitempty"`
	MessageStatus domain.DeliveryStatus    `json:"messageStatus"`
	MessageID     string                   `json:"messageId"`
	DMSResponse   *domain.ProviderResponse `json:"dmsResponse,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

type pollResponse struct {
	CustomerID string                  `json:"customerId"`
	Messages   []domain.InboundMessage `json:"messages"`
}

// handleSubmit relays a widget message to the DMS and answers with the
// provider's status code.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", requestID(r))

	var req submitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, http.StatusBadRequest, "missing required fields: "+err.Error())
		return
	}
	msg := buildOutbound(req)
	if len(msg.Text) == 0 && req.Advanced == nil {
		writeError(w, http.StatusBadRequest, "missing required fields: text")
		return
	}

	// The tracker must see the provider's answer even if the widget hangs up.
	ctx := context.WithoutCancel(r.Context())
	start := time.Now()
	resp, err := s.cfg.DMS.Client().Send(ctx, msg)

	var cfgErr *dms.ConfigError
	if errors.As(err, &cfgErr) {
		s.cfg.Metrics.ObserveSend("config_error", time.Since(start))
		logger.Warn("outbound send refused", "message_id", msg.MessageID, "missing", cfgErr.Missing)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "DMS configuration incomplete",
			"missing": cfgErr.Missing,
		})
		return
	}

	out := submitResponse{MessageID: msg.MessageID}
	switch {
	case err == nil:
		s.cfg.Tracker.RecordSent(msg.MessageID, msg.CustomerID, resp.Status)
		out.MessageStatus = domain.StatusSent
	case resp.Status != 0:
		// Provider answered non-2xx.
		s.cfg.Tracker.RecordFailed(msg.MessageID, msg.CustomerID, resp.Status)
		out.MessageStatus = domain.StatusError
	default:
		s.cfg.Tracker.RecordFailed(msg.MessageID, msg.CustomerID, 0)
		out.MessageStatus = domain.StatusError
		resp = domain.ProviderResponse{Status: http.StatusBadGateway, StatusText: http.StatusText(http.StatusBadGateway)}
		out.Error = err.Error()
	}
	s.cfg.Metrics.ObserveSend(string(out.MessageStatus), time.Since(start))

	out.Status = resp.Status
	out.Message = resp.StatusText
	out.DMSResponse = &resp

	if err != nil {
		logger.Warn("outbound send failed", "message_id", msg.MessageID, "status", resp.Status, "error", err)
	}
	s.recordOutbound(ctx, msg, out, err)
	writeJSON(w, resp.Status, out)
}

func (s *Server) recordOutbound(ctx context.Context, msg domain.OutboundMessage, out submitResponse, sendErr error) {
	s.cfg.Bus.Emit(bus.Event{
		Type:   bus.EventMessageSent,
		Source: "api",
		Payload: map[string]any{
			"message_id":  msg.MessageID,
			"customer_id": msg.CustomerID,
			"status":      string(out.MessageStatus),
			"http_status": out.Status,
		},
	})

	entry := journal.OutboundEntry{
		MessageID:  msg.MessageID,
		CustomerID: msg.CustomerID,
		Status:     string(out.MessageStatus),
		HTTPStatus: out.Status,
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	jctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := s.cfg.Journal.RecordOutbound(jctx, entry); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

func buildOutbound(req submitRequest) domain.OutboundMessage {
	name := req.CustomerName
	if name == "" {
		name = defaultCustomerName
	}
	msg := domain.OutboundMessage{
		Type:         string(domain.TypeText),
		CustomerID:   req.CustomerID,
		CustomerName: name,
		MessageID:    req.MessageID,
		Text:         textLines(req.Text),
	}
	if adv := req.Advanced; adv != nil {
		if adv.Type != "" {
			msg.Type = adv.Type
		}
		if lines := textLines(adv.Text); len(lines) > 0 {
			msg.Text = lines
		}
		msg.Attachments = adv.Attachments
		msg.ContextData = adv.ContextData
		msg.Postback = adv.Postback
	}
	return msg
}

// textLines accepts a string or an array of strings.
func textLines(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var lines []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				lines = append(lines, s)
			}
		}
		return lines
	}
	return nil
}

// handlePoll serves both /api/messages/{customerId} and
// /api/messages?customerId=.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if customerID == "" {
		customerID = r.URL.Query().Get("customerId")
	}
	since := s.sinceParam(r)

	msgs := s.cfg.Store.Since(customerID, since)
	if msgs == nil {
		msgs = []domain.InboundMessage{}
	}
	writeJSON(w, http.StatusOK, pollResponse{CustomerID: customerID, Messages: msgs})
}
