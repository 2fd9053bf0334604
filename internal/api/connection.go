package api

import (
	"context"
	"net/http"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/dms"
)

type pingResponse struct {
	Connected bool     `json:"connected"`
	Status    int      `json:"status,omitempty"`
	Message   string   `json:"message"`
	Missing   []string `json:"missing,omitempty"`
}

type configResponse struct {
	Connected  bool     `json:"connected"`
	ChannelID  string   `json:"channelId,omitempty"`
	APIURL     string   `json:"apiUrl,omitempty"`
	WebhookURL string   `json:"webhookUrl,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

type configUpdate struct {
	JWTSecret  string `json:"jwtSecret"`
	ChannelID  string `json:"channelId" validate:"max=256"`
	APIURL     string `json:"apiUrl" validate:"omitempty,url"`
	WebhookURL string `json:"webhookUrl" validate:"omitempty,url"`
}

// handlePing sends a throwaway text message to check the connection end
// to end. Ping messages are not tracked.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	client := s.cfg.DMS.Client()
	settings := client.Settings()
	if missing := settings.Missing(); len(missing) > 0 {
		writeJSON(w, http.StatusOK, pingResponse{Message: "Missing configuration values", Missing: missing})
		return
	}

	resp, err := client.Ping(context.WithoutCancel(r.Context()))

	out := pingResponse{Connected: resp.OK(), Status: resp.Status, Message: resp.StatusText}
	switch {
	case resp.Status == 0 && err != nil:
		out.Message = "Connection failed: " + err.Error()
	case out.Message == "" && out.Connected:
		out.Message = "Connection successful"
	case out.Message == "":
		out.Message = "Connection failed: " + resp.Body
	}
	s.logger.Info("dms ping", "connected", out.Connected, "status", out.Status)
	writeJSON(w, http.StatusOK, out)
}

// handleGetConfig never returns the secret.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, describe(s.cfg.DMS.Settings()))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdate
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.StructCtx(r.Context(), req); err != nil {
		writeError(w, http.StatusBadRequest, "validation: "+err.Error())
		return
	}

	next := s.cfg.DMS.Update(dms.SettingsPatch{
		ChannelID:  req.ChannelID,
		Secret:     req.JWTSecret,
		APIURL:     req.APIURL,
		WebhookURL: req.WebhookURL,
	})
	s.cfg.Bus.Emit(bus.Event{
		Type:   bus.EventConfigUpdated,
		Source: "api",
		Payload: map[string]any{
			"channel_id": next.ChannelID,
			"api_url":    next.APIURL,
			"complete":   next.Complete(),
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "connected": next.Complete()})
}

func describe(st dms.Settings) configResponse {
	return configResponse{
		Connected:  st.Complete(),
		ChannelID:  st.ChannelID,
		APIURL:     st.APIURL,
		WebhookURL: st.WebhookURL,
		Missing:    st.Missing(),
	}
}
