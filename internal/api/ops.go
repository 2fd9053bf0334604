package api

import (
	"net/http"
	"time"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/delivery"
	"dmsbridge/internal/inbox"
)

type statsResponse struct {
	Inbox    inbox.Stats    `json:"inbox"`
	Delivery delivery.Stats `json:"delivery"`
	Events   int            `json:"events"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"time":    s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Inbox:    s.cfg.Store.Stats(),
		Delivery: s.cfg.Tracker.Stats(),
		Events:   s.cfg.Bus.HistoryLen(),
	})
}

// handleEvents replays the bus history: ?type=message.stored&since=RFC3339.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := q.Get("type")
	if eventType == "" {
		eventType = "*"
	}
	events := s.cfg.Bus.Replay(eventType, s.sinceParam(r))
	if limit := queryInt(r, "limit", 0, len(events)); limit > 0 && limit < len(events) {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string][]bus.Event{"events": events})
}

// handleJournal lists the newest journal rows: ?limit=50.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.JournalReader == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := queryInt(r, "limit", 50, 500)

	webhooks, err := s.cfg.JournalReader.RecentWebhooks(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}
	outbound, err := s.cfg.JournalReader.RecentOutbound(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": webhooks, "outbound": outbound})
}
