// Package webhook turns DMS provider callbacks into stored inbound messages
// and delivery confirmations.
//
// The pipeline answers 200 for every usable payload, including duplicates
// and payloads that failed internally, so the provider never retries into a
// flood. Only unusable payloads (400) and explicit signature failures (401)
// are refused.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/delivery"
	"dmsbridge/internal/dms"
	"dmsbridge/internal/domain"
	"dmsbridge/internal/identity"
	"dmsbridge/internal/inbox"
	"dmsbridge/internal/journal"
	"dmsbridge/internal/metrics"
)

var (
	ErrUnusablePayload  = errors.New("unusable webhook payload")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// DefaultVerifyTimeout bounds signature validation.
const DefaultVerifyTimeout = 5 * time.Second

const journalTimeout = 2 * time.Second

// Outcome values recorded in the journal and the webhooks metric.
const (
	OutcomeStored           = "stored"
	OutcomeDuplicate        = "duplicate"
	OutcomeInvalidPayload   = "invalid_payload"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeInternalError    = "internal_error"
)

// usableFields are the top-level keys of which at least one must be present.
var usableFields = []string{
	"type", "message_id", "customer_id", "customer", "text", identity.LegacyField, "content",
}

// Outcome is the result of handling one webhook call.
type Outcome struct {
	Status     int    `json:"-"`
	Message    string `json:"message"`
	Stored     bool   `json:"stored"`
	Duplicate  bool   `json:"duplicate"`
	MessageID  string `json:"messageId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	// Err is set for refused payloads and recovered internal failures.
	Err error `json:"-"`
}

// VerifierSource returns the verifier for the current connection settings,
// or nil when no signing secret is configured.
type VerifierSource func() dms.Verifier

type Config struct {
	Normalizer    *identity.Normalizer
	Store         *inbox.Store
	Tracker       *delivery.Tracker
	Verifier      VerifierSource
	VerifyTimeout time.Duration
	Journal       journal.Recorder
	Bus           *bus.EventBus
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Pipeline is the webhook ingestion pipeline.
type Pipeline struct {
	normalizer    *identity.Normalizer
	store         *inbox.Store
	tracker       *delivery.Tracker
	verifier      VerifierSource
	verifyTimeout time.Duration
	journal       journal.Recorder
	bus           *bus.EventBus
	metrics       *metrics.Metrics
	logger        *slog.Logger

	warnUnsigned sync.Once
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewEventBus(bus.Config{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Verifier == nil {
		cfg.Verifier = func() dms.Verifier { return nil }
	}
	return &Pipeline{
		normalizer:    cfg.Normalizer,
		store:         cfg.Store,
		tracker:       cfg.Tracker,
		verifier:      cfg.Verifier,
		verifyTimeout: cfg.VerifyTimeout,
		journal:       cfg.Journal,
		bus:           cfg.Bus,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "webhook"),
	}
}

// Handle processes one webhook body. The caller writes Outcome.Status.
func (p *Pipeline) Handle(ctx context.Context, body []byte, header http.Header) Outcome {
	payload, err := decodePayload(body)
	if err != nil {
		p.logger.Warn("rejecting webhook payload", "error", err, "bytes", len(body))
		out := Outcome{Status: http.StatusBadRequest, Message: "invalid payload", Err: err}
		p.finish(ctx, body, out, OutcomeInvalidPayload, "")
		return out
	}

	if err := p.verify(ctx, header); err != nil {
		p.logger.Warn("rejecting webhook signature", "error", err)
		out := Outcome{Status: http.StatusUnauthorized, Message: "invalid signature", Err: err}
		p.finish(ctx, nil, out, OutcomeInvalidSignature, "")
		return out
	}

	out, msgType := p.ingest(payload)
	label := OutcomeStored
	switch {
	case out.Err != nil:
		label = OutcomeInternalError
	case out.Duplicate:
		label = OutcomeDuplicate
	}
	p.finish(ctx, body, out, label, msgType)
	return out
}

// verify returns nil when the request passes, when no secret is configured,
// or when validation did not finish in time or panicked. Only an error
// returned by the verifier rejects the request.
func (p *Pipeline) verify(ctx context.Context, header http.Header) error {
	v := p.verifier()
	if v == nil {
		p.warnUnsigned.Do(func() {
			p.logger.Warn("no signing secret configured, webhook signatures are not checked")
		})
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
	defer cancel()

	done := make(chan error, 1)
	faulted := make(chan any, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				faulted <- r
			}
		}()
		done <- v.Verify(vctx, header)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case r := <-faulted:
		p.logger.Error("signature validation panicked, accepting best effort", "panic", r)
		return nil
	case <-vctx.Done():
	}
	p.logger.Warn("signature validation timed out, accepting best effort", "timeout", p.verifyTimeout)
	return nil
}

// ingest normalizes, confirms delivery and stores. A failure in the
// delivery receipt never prevents storage. Panics are recovered into an
// internal-error outcome that still answers 200.
func (p *Pipeline) ingest(payload map[string]any) (out Outcome, msgType domain.MessageType) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("webhook processing panic", "panic", r)
			out.Status = http.StatusOK
			if out.Message == "" {
				out.Message = "message received"
			}
			out.Err = fmt.Errorf("webhook processing panic: %v", r)
		}
	}()

	msg := buildMessage(payload, p.normalizer.Normalize(payload))
	out.MessageID = msg.MessageID
	out.CustomerID = msg.CustomerID
	msgType = msg.Type

	receiptErr := p.confirmDelivery(msg.MessageID)

	stored, ok := p.store.StoreIncoming(msg)
	out.Status = http.StatusOK
	out.Err = receiptErr
	if !ok {
		out.Message = "duplicate message ignored"
		out.Duplicate = true
		p.metrics.Duplicates.Inc()
		p.bus.Emit(bus.Event{
			Type:    bus.EventMessageDup,
			Source:  "webhook",
			Payload: map[string]any{"message_id": msg.MessageID, "customer_id": msg.CustomerID},
		})
		return out, msgType
	}

	out.Message = "message received"
	out.Stored = true
	p.metrics.MessagesStored.WithLabelValues(string(stored.Type)).Inc()
	if stored.CustomerID == "" {
		p.metrics.Unresolved.Inc()
	}
	p.bus.Emit(bus.Event{
		Type:    bus.EventMessageStored,
		Source:  "webhook",
		Payload: map[string]any{"message": stored, "message_id": stored.MessageID, "customer_id": stored.CustomerID},
	})
	p.logger.Info("webhook message stored",
		"message_id", stored.MessageID,
		"type", stored.Type,
		"customer_id", stored.CustomerID,
		"ephemeral", stored.Ephemeral)
	return out, msgType
}

// confirmDelivery marks an echoed outbound id as delivered.
func (p *Pipeline) confirmDelivery(messageID string) (err error) {
	if messageID == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("delivery receipt panic", "message_id", messageID, "panic", r)
			err = fmt.Errorf("delivery receipt panic: %v", r)
		}
	}()

	p.tracker.MarkDelivered(messageID)
	p.metrics.DeliveryUpdates.WithLabelValues(string(domain.StatusDelivered)).Inc()
	p.bus.Emit(bus.Event{
		Type:    bus.EventDeliveryUpdated,
		Source:  "webhook",
		Payload: map[string]any{"message_id": messageID, "status": string(domain.StatusDelivered)},
	})
	return nil
}

// finish applies the side effects that never change the response.
func (p *Pipeline) finish(ctx context.Context, body []byte, out Outcome, label string, msgType domain.MessageType) {
	p.metrics.WebhooksReceived.WithLabelValues(label).Inc()

	if out.Status >= 400 {
		p.bus.Emit(bus.Event{
			Type:    bus.EventWebhookRejected,
			Source:  "webhook",
			Payload: map[string]any{"status": out.Status, "reason": label},
		})
	}

	jctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := p.journal.RecordWebhook(jctx, journal.WebhookEntry{
		MessageID:  out.MessageID,
		CustomerID: out.CustomerID,
		Type:       string(msgType),
		Outcome:    label,
		HTTPStatus: out.Status,
		Body:       string(body),
	}); err != nil {
		p.logger.Warn("journal write failed", "error", err)
	}
}

// decodePayload accepts only a JSON object carrying at least one known field.
func decodePayload(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnusablePayload)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrUnusablePayload)
	}
	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusablePayload, err)
	}
	for _, f := range usableFields {
		if v, ok := payload[f]; ok && v != nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("%w: no recognized fields", ErrUnusablePayload)
}

func buildMessage(payload map[string]any, res identity.Result) domain.InboundMessage {
	rawType, _ := payload["type"].(string)
	t := domain.ParseMessageType(rawType)
	return domain.InboundMessage{
		MessageID:  stringField(payload["message_id"]),
		Type:       t,
		CustomerID: res.CustomerID,
		Timestamp:  parseTimestamp(payload["timestamp"]),
		Text:       res.Text,
		Payload:    payload,
		Ephemeral:  t.Ephemeral(),
		Aliases:    res.Aliases,
	}
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// parseTimestamp accepts RFC 3339 strings and epoch milliseconds. Anything
// else yields the zero time, which the store replaces with the ingestion time.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, domain.TimestampLayout} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC()
			}
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	case float64:
		if t > 0 {
			return time.UnixMilli(int64(t)).UTC()
		}
	}
	return time.Time{}
}
