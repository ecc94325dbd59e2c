package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conduit/internal/bus"
)

func render(t *testing.T, c *Collector) string {
	t.Helper()
	var sb strings.Builder
	if err := c.WriteText(&sb); err != nil {
		t.Fatal(err)
	}
	return sb.String()
}

func TestCollector_SameSeriesShared(t *testing.T) {
	c := NewCollector("test_")
	c.Counter("hits_total", "hits", "").Inc()
	c.Counter("hits_total", "hits", "").Add(2)
	if got := c.Counter("hits_total", "hits", "").Value(); got != 3 {
		t.Fatalf("value = %d, want 3", got)
	}
	if c.Counter("hits_total", "hits", Label("k", "v")).Value() != 0 {
		t.Fatal("labeled series should be separate")
	}
}

func TestCollector_WriteText(t *testing.T) {
	c := NewCollector("test_")
	c.Counter("hits_total", "Number of hits", Label("path", "/a")).Inc()
	c.Gauge("queue_depth", "Queue depth", "").Set(4)
	h := c.Histogram("latency_seconds", "Latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(2)

	out := render(t, c)
	for _, want := range []string{
		"# TYPE test_hits_total counter",
		`test_hits_total{path="/a"} 1`,
		"test_queue_depth 4",
		`test_latency_seconds_bucket{le="0.1"} 1`,
		`test_latency_seconds_bucket{le="1"} 1`,
		`test_latency_seconds_bucket{le="+Inf"} 2`,
		"test_latency_seconds_count 2",
		"test_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCollector_ObserveEvents(t *testing.T) {
	events := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := NewCollector("conduit_")
	c.Observe(events)

	events.Emit(bus.Event{Type: bus.EventExchangeState, Payload: map[string]any{"state": "iterating"}})
	events.Emit(bus.Event{Type: bus.EventExchangeState, Payload: map[string]any{"state": "completed"}})
	events.Emit(bus.Event{Type: bus.EventToolExecuted, Payload: map[string]any{"tool": "exec", "ok": false, "duration_ms": int64(1500)}})
	events.Emit(bus.Event{Type: bus.EventSubagentSpawned, Payload: map[string]any{"id": "a"}})
	events.Emit(bus.Event{Type: bus.EventSubagentSpawned, Payload: map[string]any{"id": "b"}})
	events.Emit(bus.Event{Type: bus.EventSubagentCompleted, Payload: map[string]any{"id": "a", "status": "completed"}})
	events.Emit(bus.Event{Type: bus.EventMessageDropped})

	if v := c.Counter("exchanges_total", "", Label("state", "completed")).Value(); v != 1 {
		t.Errorf("completed exchanges = %d", v)
	}
	if v := c.Counter("exchanges_total", "", Label("state", "iterating")).Value(); v != 0 {
		t.Errorf("non-terminal states should not be counted, got %d", v)
	}
	if v := c.Counter("tool_executions_total", "", Label("tool", "exec")+","+Label("result", "error")).Value(); v != 1 {
		t.Errorf("tool errors = %d", v)
	}
	if n := c.Histogram("tool_latency_seconds", "", "", toolLatencyBuckets).Count(); n != 1 {
		t.Errorf("latency observations = %d", n)
	}
	if v := c.Gauge("subagents_running", "", "").Value(); v != 1 {
		t.Errorf("running subagents = %d", v)
	}
	if v := c.Counter("messages_dropped_total", "", "").Value(); v != 1 {
		t.Errorf("dropped = %d", v)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("x_")
	c.Counter("a_total", "a", "").Inc()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("status %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "x_a_total 1") {
		t.Fatalf("body %q", rec.Body.String())
	}
}
