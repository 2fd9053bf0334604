// Package dms talks to the Digital Messaging Service: it signs and sends
// outbound customer messages and verifies the tokens on incoming webhooks.
package dms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dmsbridge/internal/domain"
)

// SendTimeout bounds one outbound send, retries included.
const SendTimeout = 10 * time.Second

const tokenTTL = 60 * time.Second

// Settings is the DMS connection configuration.
type Settings struct {
	ChannelID  string
	Secret     string
	APIURL     string
	WebhookURL string
}

// Missing returns the names of the fields required for outbound sends
// that are empty.
func (s Settings) Missing() []string {
	var missing []string
	if s.Secret == "" {
		missing = append(missing, "jwtSecret")
	}
	if s.ChannelID == "" {
		missing = append(missing, "channelId")
	}
	if s.APIURL == "" {
		missing = append(missing, "apiUrl")
	}
	return missing
}

// Complete reports whether outbound sends can be attempted.
func (s Settings) Complete() bool {
	return len(s.Missing()) == 0
}

// ConfigError reports incomplete connection settings.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "dms configuration incomplete: missing " + strings.Join(e.Missing, ", ")
}

// ProviderError is a non-2xx answer from the DMS.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("dms returned HTTP %d: %s", e.StatusCode, e.Body)
}

type ClientConfig struct {
	Settings   Settings
	HTTPClient *http.Client
	// Limiter throttles sends; nil means unlimited.
	Limiter *RateLimiter
	Logger  *slog.Logger
	Now     func() time.Time
}

// Client sends messages to one DMS channel. It is immutable; a settings
// change builds a new Client.
type Client struct {
	settings Settings
	http     *http.Client
	limiter  *RateLimiter
	logger   *slog.Logger
	now      func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: SendTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		settings: cfg.Settings,
		http:     cfg.HTTPClient,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger.With("component", "dms"),
		now:      cfg.Now,
	}
}

func (c *Client) Settings() Settings {
	return c.settings
}

// Send posts msg to {apiUrl}/messages. A non-2xx answer is returned both as
// the response and as a *ProviderError. Incomplete settings yield a
// *ConfigError without any network call.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (domain.ProviderResponse, error) {
	if missing := c.settings.Missing(); len(missing) > 0 {
		return domain.ProviderResponse{}, &ConfigError{Missing: missing}
	}
	if msg.Type == "" {
		msg.Type = string(domain.TypeText)
	}
	if msg.Timestamp == "" {
		msg.Timestamp = c.now().UTC().Format(domain.TimestampLayout)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("marshal message: %w", err)
	}
	token, err := c.SignToken()
	if err != nil {
		return domain.ProviderResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("send throttled: %w", err)
	}
	if waited > 0 {
		c.logger.Debug("dms send throttled", "message_id", msg.MessageID, "waited", waited)
	}

	endpoint := strings.TrimRight(c.settings.APIURL, "/") + "/messages"
	start := time.Now()
	resp, err := sendWithRetry(ctx, c.http, msg.MessageID, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Channel-Id", c.settings.ChannelID)
		return req, nil
	}, c.logger)
	if err != nil {
		var ue *unavailableError
		if errors.As(err, &ue) {
			pr := domain.ProviderResponse{Status: ue.statusCode, StatusText: http.StatusText(ue.statusCode), Body: ue.body}
			return pr, &ProviderError{StatusCode: ue.statusCode, Body: ue.body}
		}
		return domain.ProviderResponse{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	pr := domain.ProviderResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(raw),
	}
	c.logger.Info("dms send",
		"message_id", msg.MessageID,
		"customer_id", msg.CustomerID,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if !pr.OK() {
		return pr, &ProviderError{StatusCode: pr.Status, Body: pr.Body}
	}
	return pr, nil
}

// Ping sends a throwaway text message to check the connection end to end.
func (c *Client) Ping(ctx context.Context) (domain.ProviderResponse, error) {
	now := c.now()
	return c.Send(ctx, domain.OutboundMessage{
		Type:       string(domain.TypeText),
		CustomerID: "ping-test-" + strconv.FormatInt(now.UnixMilli(), 10),
		MessageID:  "ping-" + uuid.NewString(),
		Text:       []string{"ping test message"},
	})
}

// SignToken returns a short-lived HS256 token identifying the channel.
func (c *Client) SignToken() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.settings.ChannelID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.settings.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
