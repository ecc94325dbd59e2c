package metrics

import (
	"conduit/internal/bus"
)

var toolLatencyBuckets = []float64{0.1, 0.5, 1, 5, 10, 30, 60}

// terminal exchange states counted by exchanges_total.
var terminalStates = map[string]bool{"completed": true, "failed": true, "exhausted": true}

// Observe subscribes c to lifecycle events and returns the handler id for
// events.Off.
func (c *Collector) Observe(events *bus.EventBus) string {
	return events.On("*", c.record)
}

func (c *Collector) record(e bus.Event) {
	switch e.Type {
	case bus.EventExchangeState:
		state, _ := e.Payload["state"].(string)
		if terminalStates[state] {
			c.Counter("exchanges_total", "Finished exchanges by final state", Label("state", state)).Inc()
		}

	case bus.EventToolExecuted:
		name, _ := e.Payload["tool"].(string)
		result := "ok"
		if ok, _ := e.Payload["ok"].(bool); !ok {
			result = "error"
		}
		c.Counter("tool_executions_total", "Tool executions by tool and result",
			Label("tool", name)+","+Label("result", result)).Inc()
		if ms, ok := e.Payload["duration_ms"].(int64); ok {
			c.Histogram("tool_latency_seconds", "Tool execution latency in seconds", "", toolLatencyBuckets).
				Observe(float64(ms) / 1000)
		}

	case bus.EventMessageDropped:
		c.Counter("messages_dropped_total", "Inbound messages that could not be routed", "").Inc()

	case bus.EventSubagentSpawned:
		c.Counter("subagents_spawned_total", "Subagents started", "").Inc()
		c.Gauge("subagents_running", "Subagents currently running", "").Inc()

	case bus.EventSubagentCompleted:
		status, _ := e.Payload["status"].(string)
		c.Counter("subagents_finished_total", "Subagents finished by status", Label("status", status)).Inc()
		c.Gauge("subagents_running", "Subagents currently running", "").Dec()

	case bus.EventCronFired:
		result := "ok"
		if ok, _ := e.Payload["ok"].(bool); !ok {
			result = "error"
		}
		c.Counter("cron_runs_total", "Cron job runs by result", Label("result", result)).Inc()

	case bus.EventSessionSaveFailed:
		c.Counter("session_save_failures_total", "Session saves that failed", "").Inc()
	}
}
