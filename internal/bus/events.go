// Package bus is the in-process event bus. The webhook pipeline and the API
// emit lifecycle events; the fan-out publisher and the events feed consume
// them.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event represents a bridge event for internal pub/sub.
type Event struct {
	Type      string         `json:"type"`   // e.g. "message.stored", "delivery.updated"
	Source    string         `json:"source"` // originating component
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

const defaultMaxHistory = 1000

type Config struct {
	// MaxHistory bounds the replay buffer (default 1000).
	MaxHistory int
	Logger     *slog.Logger
	Now        func() time.Time
}

// EventBus provides topic-based publish/subscribe with wildcard
// subscriptions and a bounded history for replay.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	now        func() time.Time
	history    []Event
	maxHistory int
	nextID     uint64
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(cfg Config) *EventBus {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     cfg.Logger.With("component", "bus"),
		now:        cfg.Now,
		maxHistory: cfg.MaxHistory,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for unsubscription.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.FormatUint(eb.nextID, 10)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all registered handlers.
// Handlers are called synchronously in order; a panicking handler is logged
// and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now().UTC()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events matching the given type strictly after
// since. Use "*" or "" for all event types.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	result := make([]Event, 0)
	for _, e := range eb.history {
		if !e.Timestamp.After(since) {
			continue
		}
		if eventType == "*" || eventType == "" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

const (
	EventMessageStored   = "message.stored"
	EventMessageDup      = "message.duplicate"
	EventDeliveryUpdated = "delivery.updated"
	EventWebhookRejected = "webhook.rejected"
	EventMessageSent     = "message.sent"
	EventConfigUpdated   = "config.updated"
)
