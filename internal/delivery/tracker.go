// Package delivery tracks the lifecycle of outbound messages sent to the DMS.
package delivery

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"dmsbridge/internal/domain"
)

// Stats summarizes the tracker contents.
type Stats struct {
	Tracked  int                           `json:"tracked"`
	ByStatus map[domain.DeliveryStatus]int `json:"byStatus"`
	Evicted  uint64                        `json:"evicted"`
}

type Config struct {
	// MaxEntries bounds the number of tracked ids (0 = unbounded).
	// The least recently updated record is evicted first; reads do not
	// count as updates.
	MaxEntries int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Tracker maps outbound message ids to their current delivery status.
type Tracker struct {
	mu      sync.Mutex // guards records and evicted; simplelru is not safe for concurrent use
	records *simplelru.LRU[string, *domain.OutboundRecord]
	evicted uint64

	now    func() time.Time
	logger *slog.Logger
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	size := cfg.MaxEntries
	if size <= 0 {
		size = math.MaxInt
	}
	t := &Tracker{
		now:    cfg.Now,
		logger: cfg.Logger.With("component", "delivery"),
	}
	// NewLRU only fails for a non-positive size.
	t.records, _ = simplelru.NewLRU(size, func(id string, _ *domain.OutboundRecord) {
		t.evicted++
		t.logger.Debug("evicted delivery record", "message_id", id)
	})
	return t
}

// RecordSent marks a message as accepted by the provider.
func (t *Tracker) RecordSent(messageID, customerID string, httpStatus int) {
	t.record(messageID, customerID, domain.StatusSent, httpStatus)
}

// RecordFailed marks a message whose synchronous send failed.
func (t *Tracker) RecordFailed(messageID, customerID string, httpStatus int) {
	t.record(messageID, customerID, domain.StatusError, httpStatus)
}

// RecordStatus sets the status of a message, creating the record if needed.
// Once a message is delivered only another delivered report is accepted.
func (t *Tracker) RecordStatus(messageID string, status domain.DeliveryStatus) {
	t.record(messageID, "", status, 0)
}

// MarkDelivered records a webhook confirmation. Delivered overrides any
// earlier status. It reports whether the id was previously tracked.
func (t *Tracker) MarkDelivered(messageID string) bool {
	if messageID == "" {
		return false
	}
	t.mu.Lock()
	known := t.records.Contains(messageID)
	t.mu.Unlock()
	t.record(messageID, "", domain.StatusDelivered, 0)
	return known
}

// Status returns the current status for messageID.
func (t *Tracker) Status(messageID string) (domain.DeliveryStatus, bool) {
	rec, ok := t.Get(messageID)
	if !ok {
		return domain.StatusUnknown, false
	}
	return rec.Status, true
}

func (t *Tracker) Get(messageID string) (domain.OutboundRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records.Peek(messageID)
	if !ok {
		return domain.OutboundRecord{}, false
	}
	return *rec, true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records.Len()
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Stats{
		Tracked:  t.records.Len(),
		ByStatus: make(map[domain.DeliveryStatus]int),
		Evicted:  t.evicted,
	}
	for _, rec := range t.records.Values() {
		st.ByStatus[rec.Status]++
	}
	return st
}

func (t *Tracker) record(messageID, customerID string, status domain.DeliveryStatus, httpStatus int) {
	if messageID == "" {
		return
	}
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records.Peek(messageID); ok {
		if rec.Status == domain.StatusDelivered && status != domain.StatusDelivered {
			t.logger.Debug("ignoring status after delivery", "message_id", messageID, "status", status)
			return
		}
		rec.Status = status
		rec.UpdatedAt = now
		if customerID != "" {
			rec.CustomerID = customerID
		}
		if httpStatus != 0 {
			rec.HTTPStatus = httpStatus
		}
		t.records.Get(messageID) // refresh recency
		return
	}

	rec := &domain.OutboundRecord{
		MessageID:  messageID,
		CustomerID: customerID,
		Status:     status,
		HTTPStatus: httpStatus,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.records.Add(messageID, rec)
}
