package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestBus() *EventBus {
	return NewEventBus(Config{Logger: testEBLogger()})
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := newTestBus()

	var received int32
	var gotID any
	eb.On(EventMessageStored, func(e Event) {
		atomic.AddInt32(&received, 1)
		gotID = e.Payload["message_id"]
	})

	eb.Emit(Event{Type: EventMessageStored, Payload: map[string]any{"message_id": "m1"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
	if gotID != "m1" {
		t.Errorf("expected payload m1, got %v", gotID)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := newTestBus()

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventMessageStored})
	eb.Emit(Event{Type: EventDeliveryUpdated})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := newTestBus()

	var first, second int32
	id := eb.On("test.event", func(e Event) { atomic.AddInt32(&first, 1) })
	eb.On("test.event", func(e Event) { atomic.AddInt32(&second, 1) })

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&first) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", first)
	}
	if atomic.LoadInt32(&second) != 2 {
		t.Errorf("remaining handler should still fire, got %d", second)
	}
}

func TestEventBus_HandlerIDsUniqueAfterOff(t *testing.T) {
	eb := newTestBus()
	a := eb.On("x", func(Event) {})
	eb.Off("x", a)
	b := eb.On("x", func(Event) {})
	c := eb.On("x", func(Event) {})
	if a == b || b == c {
		t.Errorf("handler ids must be unique: %s %s %s", a, b, c)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := newTestBus()

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	if events := eb.Replay("a", time.Time{}); len(events) != 2 {
		t.Errorf("expected 2 'a' events, got %d", len(events))
	}
	if events := eb.Replay("*", time.Time{}); len(events) != 3 {
		t.Errorf("expected 3 total events, got %d", len(events))
	}
	if events := eb.Replay("", time.Time{}); len(events) != 3 {
		t.Errorf("empty type should match all, got %d", len(events))
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := newTestBus()
	threshold := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	eb.Emit(Event{Type: "old", Timestamp: threshold.Add(-time.Hour)})
	eb.Emit(Event{Type: "edge", Timestamp: threshold})
	eb.Emit(Event{Type: "new", Timestamp: threshold.Add(time.Second)})

	events := eb.Replay("*", threshold)
	if len(events) != 1 || events[0].Type != "new" {
		t.Errorf("expected only the event strictly after threshold, got %+v", events)
	}
}

func TestEventBus_ReplayEmptyIsNonNil(t *testing.T) {
	eb := newTestBus()
	if events := eb.Replay("*", time.Time{}); events == nil {
		t.Error("replay should return an empty slice, not nil")
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(Config{MaxHistory: 5, Logger: testEBLogger()})

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := newTestBus()

	var after int32
	eb.On("panic", func(e Event) {
		panic("test panic")
	})
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	// Should not panic the caller
	eb.Emit(Event{Type: "panic"})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handlers after a panicking one should still run")
	}
}

func TestEventBus_TimestampFromClock(t *testing.T) {
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	eb := NewEventBus(Config{Logger: testEBLogger(), Now: func() time.Time { return fixed }})

	eb.Emit(Event{Type: "test"})

	events := eb.Replay("test", time.Time{})
	if len(events) != 1 {
		t.Fatal("expected 1 event")
	}
	if !events[0].Timestamp.Equal(fixed) {
		t.Errorf("timestamp should come from the clock, got %v", events[0].Timestamp)
	}
}
