package dms

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// SettingsPatch carries a partial settings update. Empty fields are kept.
type SettingsPatch struct {
	ChannelID  string
	Secret     string
	APIURL     string
	WebhookURL string
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.ChannelID != "" {
		s.ChannelID = p.ChannelID
	}
	if p.Secret != "" {
		s.Secret = p.Secret
	}
	if p.APIURL != "" {
		s.APIURL = p.APIURL
	}
	if p.WebhookURL != "" {
		s.WebhookURL = p.WebhookURL
	}
	return s
}

type connection struct {
	client   *Client
	verifier Verifier
}

// Holder owns the current Client and webhook Verifier and swaps both
// atomically when the settings change. Every client it builds shares the
// same HTTP client and rate limiter.
type Holder struct {
	mu      sync.Mutex // serializes Update
	current atomic.Pointer[connection]
	base    ClientConfig
	logger  *slog.Logger
}

// NewHolder builds the first client from cfg.Settings.
func NewHolder(cfg ClientConfig) *Holder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Holder{base: cfg, logger: cfg.Logger}
	h.current.Store(h.build(cfg.Settings))
	return h
}

// Client returns the client for the current settings.
func (h *Holder) Client() *Client {
	return h.current.Load().client
}

func (h *Holder) Settings() Settings {
	return h.Client().Settings()
}

// Verifier returns the webhook verifier, or nil when no secret is set.
func (h *Holder) Verifier() Verifier {
	return h.current.Load().verifier
}

// Update merges patch into the current settings and rebuilds the client.
func (h *Holder) Update(patch SettingsPatch) Settings {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := patch.apply(h.Settings())
	h.current.Store(h.build(next))
	h.logger.Info("dms settings updated",
		"channel_id", next.ChannelID,
		"api_url", next.APIURL,
		"complete", next.Complete())
	return next
}

func (h *Holder) build(s Settings) *connection {
	cfg := h.base
	cfg.Settings = s
	c := &connection{client: NewClient(cfg)}
	if s.Secret != "" {
		c.verifier = NewTokenVerifier(s.Secret)
	}
	return c
}
