package api

import (
	"context"
	"io"
	"net/http"
)

// handleWebhook feeds the provider callback to the pipeline. Handling is
// detached from the request context so a disconnect never aborts it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.logger.Warn("webhook body unreadable", "request_id", requestID(r), "error", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	out := s.cfg.Pipeline.Handle(context.WithoutCancel(r.Context()), body, r.Header)
	writeJSON(w, out.Status, out)
}
