package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var received int32
	eb.On(EventToolExecuted, func(e Event) {
		if e.Payload["tool"] != "exec" {
			t.Errorf("unexpected payload: %v", e.Payload)
		}
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventToolExecuted, Payload: map[string]any{"tool": "exec"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventExchangeState})
	eb.Emit(Event{Type: EventMessageDropped})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	id := eb.On("test.event", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testLogger())

	var a, b int32
	first := eb.On("x", func(Event) { atomic.AddInt32(&a, 1) })
	eb.On("x", func(Event) { atomic.AddInt32(&b, 1) })
	eb.Off("x", first)
	third := eb.On("x", func(Event) {})
	if third == first {
		t.Fatalf("handler IDs must not be reused: %q", third)
	}

	eb.Emit(Event{Type: "x"})
	if atomic.LoadInt32(&a) != 0 || atomic.LoadInt32(&b) != 1 {
		t.Fatalf("unexpected counts a=%d b=%d", a, b)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	events := eb.Replay("a", time.Time{})
	if len(events) != 2 {
		t.Errorf("expected 2 'a' events, got %d", len(events))
	}

	allEvents := eb.Replay("*", time.Time{})
	if len(allEvents) != 3 {
		t.Errorf("expected 3 total events, got %d", len(allEvents))
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})

	events := eb.Replay("*", threshold)
	if len(events) != 1 {
		t.Errorf("expected 1 event since threshold, got %d", len(events))
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after int32
	eb.On("panic", func(e Event) {
		panic("test panic")
	})
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "panic"})
	if atomic.LoadInt32(&after) != 1 {
		t.Fatal("handler after a panicking one should still run")
	}
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: "ignored"})
}
