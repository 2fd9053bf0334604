package inbox

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dmsbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock, cfg Config) *Store {
	cfg.Logger = testLogger()
	cfg.Now = clock.Now
	return NewStore(cfg)
}

func textMsg(id, customer, text string) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID:  id,
		Type:       domain.TypeText,
		CustomerID: customer,
		Text:       []string{text},
	}
}

func TestStoreIncoming_DuplicateRejected(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})

	if _, ok := s.StoreIncoming(textMsg("m1", "C", "hello")); !ok {
		t.Fatal("first delivery should be stored")
	}
	if _, ok := s.StoreIncoming(textMsg("m1", "C", "hello")); ok {
		t.Fatal("identical redelivery should be rejected")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
	st := s.Stats()
	if st.Accepted != 1 || st.Duplicates != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestStoreIncoming_SameIDDifferentText(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})

	s.StoreIncoming(textMsg("m1", "C", "outbound echo"))
	if _, ok := s.StoreIncoming(textMsg("m1", "C", "agent reply")); !ok {
		t.Fatal("same id with different text must be stored")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Len())
	}
	// Re-delivery of either variant is still a duplicate.
	if _, ok := s.StoreIncoming(textMsg("m1", "C", "outbound echo")); ok {
		t.Error("re-delivery of first variant should be rejected")
	}
	if _, ok := s.StoreIncoming(textMsg("m1", "C", "agent reply")); ok {
		t.Error("re-delivery of second variant should be rejected")
	}
}

func TestStoreIncoming_SameIDDifferentType(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})

	s.StoreIncoming(textMsg("m1", "C", "x"))
	link := textMsg("m1", "C", "x")
	link.Type = domain.TypeLinkButton
	if _, ok := s.StoreIncoming(link); !ok {
		t.Fatal("same id with different type must be stored")
	}
}

func TestStoreIncoming_SameIDDifferentCustomer(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})

	s.StoreIncoming(textMsg("m1", "A", "x"))
	if _, ok := s.StoreIncoming(textMsg("m1", "B", "x")); !ok {
		t.Fatal("same id for a different customer must be stored")
	}
}

func TestStoreIncoming_NoMessageIDNeverDeduplicated(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})

	s.StoreIncoming(textMsg("", "C", "x"))
	if _, ok := s.StoreIncoming(textMsg("", "C", "x")); !ok {
		t.Fatal("messages without id are always stored")
	}
}

func TestStoreIncoming_AssignsTimestamp(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Config{})

	stored, _ := s.StoreIncoming(textMsg("m1", "C", "x"))
	if !stored.Timestamp.Equal(clock.Now()) {
		t.Errorf("returned copy should carry the ingestion timestamp, got %v", stored.Timestamp)
	}
	got := s.Since("C", time.Time{})
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(clock.Now()) {
		t.Errorf("expected ingestion timestamp %v, got %v", clock.Now(), got[0].Timestamp)
	}
}

func TestSince_CursorSemantics(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(time.Second)

	for i, ts := range []time.Time{t1, t2, t3} {
		m := textMsg(fmt.Sprintf("m%d", i+1), "C", fmt.Sprintf("msg %d", i+1))
		m.Timestamp = ts
		s.StoreIncoming(m)
	}

	got := s.Since("C", t1)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after T1, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(t2) || !got[1].Timestamp.Equal(t3) {
		t.Errorf("expected [T2 T3], got [%v %v]", got[0].Timestamp, got[1].Timestamp)
	}

	if got := s.Since("C", t3); len(got) != 0 {
		t.Errorf("expected nothing after T3, got %d", len(got))
	}
}

func TestSince_FiltersByCustomer(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})
	s.StoreIncoming(textMsg("m1", "A", "for a"))
	s.StoreIncoming(textMsg("m2", "B", "for b"))

	got := s.Since("A", time.Time{})
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Errorf("expected only m1, got %+v", got)
	}
}

func TestSince_MatchesAlias(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})
	m := textMsg("m1", "flat", "x")
	m.Aliases = []string{"profile-7", "flat"}
	s.StoreIncoming(m)

	if got := s.Since("profile-7", time.Time{}); len(got) != 1 {
		t.Errorf("nested identity should match, got %d", len(got))
	}
}

func TestSince_UnresolvedNeverMatches(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})
	s.StoreIncoming(textMsg("m1", "", "orphan"))

	if got := s.Since("", time.Time{}); len(got) != 0 {
		t.Errorf("empty customer query must return nothing, got %d", len(got))
	}
	if s.Stats().Unresolved != 1 {
		t.Errorf("expected unresolved counter 1, got %d", s.Stats().Unresolved)
	}
}

func TestSince_EphemeralExpires(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Config{EphemeralTTL: 5 * time.Second})
	s.StoreIncoming(domain.InboundMessage{
		Type:       domain.TypeTypingIndicator,
		CustomerID: "C",
		Ephemeral:  true,
	})

	if got := s.Since("C", time.Time{}); len(got) != 1 {
		t.Fatalf("fresh typing indicator should be visible, got %d", len(got))
	}
	clock.Advance(6 * time.Second)
	if got := s.Since("C", time.Time{}); len(got) != 0 {
		t.Errorf("stale typing indicator should be hidden, got %d", len(got))
	}
}

func TestRetention_MaxMessages(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{MaxMessages: 2})
	s.StoreIncoming(textMsg("m1", "C", "one"))
	s.StoreIncoming(textMsg("m2", "C", "two"))
	s.StoreIncoming(textMsg("m3", "C", "three"))

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", s.Len())
	}
	got := s.Since("C", time.Time{})
	if got[0].MessageID != "m2" || got[1].MessageID != "m3" {
		t.Errorf("oldest entry should be evicted, got %s %s", got[0].MessageID, got[1].MessageID)
	}
	// m1 left the ledger with its entry, so it is accepted again.
	if _, ok := s.StoreIncoming(textMsg("m1", "C", "one")); !ok {
		t.Error("evicted id should be accepted again")
	}
	// m3 is still tracked.
	if _, ok := s.StoreIncoming(textMsg("m3", "C", "three")); ok {
		t.Error("m3 is still stored and must be rejected")
	}
	if s.Stats().Evicted != 2 {
		t.Errorf("expected 2 evictions, got %d", s.Stats().Evicted)
	}
}

func TestRetention_MaxAge(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, Config{MaxAge: time.Minute})
	s.StoreIncoming(textMsg("old", "C", "old"))
	clock.Advance(2 * time.Minute)
	s.StoreIncoming(textMsg("new", "C", "new"))

	if s.Len() != 1 {
		t.Fatalf("expected old entry evicted, got %d entries", s.Len())
	}
	if n := s.Prune(clock.Now()); n != 0 {
		t.Errorf("nothing left to prune, got %d", n)
	}
	clock.Advance(2 * time.Minute)
	if n := s.Prune(clock.Now()); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
}

func TestStoreIncoming_ConcurrentDuplicates(t *testing.T) {
	s := newTestStore(newFakeClock(), Config{})

	var stored int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.StoreIncoming(textMsg("m1", "C", "same")); ok {
				atomic.AddInt32(&stored, 1)
			}
		}()
	}
	wg.Wait()

	if stored != 1 {
		t.Errorf("exactly one concurrent delivery should be stored, got %d", stored)
	}
}
