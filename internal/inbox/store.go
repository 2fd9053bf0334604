// Package inbox holds normalized inbound DMS messages: an append-only,
// insertion-ordered log with a content-aware deduplication ledger and the
// "messages for customer since T" query used by polling clients.
package inbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dmsbridge/internal/domain"
)

const (
	defaultEphemeralTTL  = 10 * time.Second
	defaultSweepInterval = time.Minute
)

// Stats are cumulative counters plus the current sizes.
type Stats struct {
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	Unresolved uint64 `json:"unresolved"`
	Evicted    uint64 `json:"evicted"`
	Size       int    `json:"size"`
	LedgerSize int    `json:"ledgerSize"`
}

type Config struct {
	// MaxMessages bounds the number of stored entries (0 = unbounded).
	MaxMessages int
	// MaxAge evicts entries older than this (0 = never).
	MaxAge time.Duration
	// EphemeralTTL is how long typing indicators and end-session events
	// stay visible to polls.
	EphemeralTTL time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store is the inbound message store and deduplication ledger.
type Store struct {
	mu      sync.Mutex
	entries []domain.InboundMessage
	base    uint64 // sequence number of entries[0]
	ledger  *ledger
	stats   Stats

	maxMessages  int
	maxAge       time.Duration
	ephemeralTTL time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewStore(cfg Config) *Store {
	if cfg.EphemeralTTL <= 0 {
		cfg.EphemeralTTL = defaultEphemeralTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		ledger:       newLedger(),
		maxMessages:  cfg.MaxMessages,
		maxAge:       cfg.MaxAge,
		ephemeralTTL: cfg.EphemeralTTL,
		now:          cfg.Now,
		logger:       cfg.Logger.With("component", "inbox"),
	}
}

// StoreIncoming appends msg unless an entry with the same message id and
// identical type, text and customer id is already stored. It reports
// whether the message was stored, along with the stored copy carrying its
// assigned timestamp. The existence check, comparison, append and ledger
// update are one atomic step.
func (s *Store) StoreIncoming(msg domain.InboundMessage) (domain.InboundMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.MessageID != "" {
		for _, seq := range s.ledger.lookup(msg.MessageID) {
			prev, ok := s.atLocked(seq)
			if ok && prev.SameContent(msg) {
				s.stats.Duplicates++
				s.logger.Debug("duplicate message rejected", "message_id", msg.MessageID, "type", msg.Type)
				return prev, false
			}
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	// Polling clients echo the wire timestamp back as their cursor.
	msg.Timestamp = msg.Timestamp.Truncate(time.Millisecond)
	if msg.CustomerID == "" {
		s.stats.Unresolved++
		s.logger.Warn("storing message without customer id", "message_id", msg.MessageID, "type", msg.Type)
	}

	seq := s.base + uint64(len(s.entries))
	s.entries = append(s.entries, msg)
	if msg.MessageID != "" {
		s.ledger.record(msg.MessageID, seq)
	}
	s.stats.Accepted++

	s.pruneLocked(s.now())
	return msg, true
}

// Since returns the messages for customerID with a timestamp strictly after
// since, in insertion order. Ephemeral events older than the TTL are skipped.
func (s *Store) Since(customerID string, since time.Time) []domain.InboundMessage {
	if customerID == "" {
		return []domain.InboundMessage{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]domain.InboundMessage, 0)
	for _, m := range s.entries {
		if !m.MatchesCustomer(customerID) || !m.Timestamp.After(since) {
			continue
		}
		if m.Ephemeral && now.Sub(m.Timestamp) > s.ephemeralTTL {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Size = len(s.entries)
	st.LedgerSize = s.ledger.len()
	return st
}

// Prune applies the retention policy and returns how many entries were evicted.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

// RunRetention prunes periodically until ctx is done. It returns immediately
// when no time-based retention is configured.
func (s *Store) RunRetention(ctx context.Context, interval time.Duration) {
	if s.maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(s.now()); n > 0 {
				s.logger.Info("retention evicted messages", "count", n)
			}
		}
	}
}

func (s *Store) atLocked(seq uint64) (domain.InboundMessage, bool) {
	if seq < s.base {
		return domain.InboundMessage{}, false
	}
	idx := seq - s.base
	if idx >= uint64(len(s.entries)) {
		return domain.InboundMessage{}, false
	}
	return s.entries[idx], true
}

func (s *Store) pruneLocked(now time.Time) int {
	drop := 0
	if s.maxMessages > 0 && len(s.entries) > s.maxMessages {
		drop = len(s.entries) - s.maxMessages
	}
	if s.maxAge > 0 {
		cutoff := now.Add(-s.maxAge)
		for drop < len(s.entries) && s.entries[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if drop == 0 {
		return 0
	}

	for i := 0; i < drop; i++ {
		if id := s.entries[i].MessageID; id != "" {
			s.ledger.forget(id, s.base+uint64(i))
		}
	}
	remaining := make([]domain.InboundMessage, len(s.entries)-drop)
	copy(remaining, s.entries[drop:])
	s.entries = remaining
	s.base += uint64(drop)
	s.stats.Evicted += uint64(drop)
	return drop
}
