package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"

	"conduit/internal/bus"
	"conduit/internal/domain"
	"conduit/internal/session"
	"conduit/internal/tool"
)

// ErrTooManySubagents is returned by Spawn when the concurrency bound is reached.
var ErrTooManySubagents = errors.New("too many running subagents")

const (
	defaultMaxSubagents      = 4
	defaultSubagentIteration = 15
	subagentSender           = "subagent"
)

// SubagentStatus is the lifecycle state of a spawned subagent.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
)

// SubagentHandle describes one spawned subagent.
type SubagentHandle struct {
	ID        string             `json:"id"`
	Label     string             `json:"label"`
	Task      string             `json:"task"`
	Origin    domain.Destination `json:"origin"`
	Status    SubagentStatus     `json:"status"`
	Result    string             `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	DoneAt    time.Time          `json:"done_at,omitempty"`
}

// SubagentConfig holds the dependencies shared with spawned subagents.
type SubagentConfig struct {
	Provider      domain.Provider
	Tools         *tool.Registry // parent registry; spawn and message are removed
	Context       *ContextBuilder
	Bus           domain.MessageBus
	Events        *bus.EventBus
	Logger        *slog.Logger
	Model         string
	MaxConcurrent int
	MaxIterations int
	MaxTokens     int
	Temperature   float64
	RateLimiter   *RateLimiter // shared with the parent loop so subagents count against the same budget
}

// SubagentManager runs delegated tasks in the background and reports each
// result to its origin conversation through the system channel.
type SubagentManager struct {
	cfg     SubagentConfig
	tools   *tool.Registry
	logger  *slog.Logger
	handles *haxmap.Map[string, *SubagentHandle]

	mu      sync.Mutex // guards running and handle fields
	running int
	wg      sync.WaitGroup
}

func NewSubagentManager(cfg SubagentConfig) *SubagentManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxSubagents
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultSubagentIteration
	}
	if cfg.Context == nil {
		cfg.Context = NewContextBuilder(ContextConfig{Logger: cfg.Logger})
	}
	tools := tool.NewRegistry(cfg.Logger)
	if cfg.Tools != nil {
		tools = cfg.Tools.Subset(tool.NewFilter(nil, []string{"spawn", "message"}))
	}
	return &SubagentManager{
		cfg:     cfg,
		tools:   tools,
		logger:  cfg.Logger.With("component", "subagents"),
		handles: haxmap.New[string, *SubagentHandle](),
	}
}

// SetTools replaces the parent registry. Used when the registry is built
// after the manager because it contains the spawn tool itself.
func (m *SubagentManager) SetTools(parent *tool.Registry) {
	m.tools = parent.Subset(tool.NewFilter(nil, []string{"spawn", "message"}))
}

// Spawn starts a subagent for task and returns a confirmation for the model.
// It implements tool.Spawner.
func (m *SubagentManager) Spawn(ctx context.Context, task, label string, origin domain.Destination) (string, error) {
	h, err := m.Start(ctx, task, label, origin)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Subagent %q started (id: %s). I'll report back when it finishes.", h.Label, h.ID), nil
}

// Start launches a subagent and returns a snapshot of its handle.
func (m *SubagentManager) Start(ctx context.Context, task, label string, origin domain.Destination) (SubagentHandle, error) {
	if origin.Channel == "" || origin.ChatID == "" {
		return SubagentHandle{}, fmt.Errorf("%w: subagent origin %q", domain.ErrInvalidDestination, origin.String())
	}
	if m.cfg.Provider == nil {
		return SubagentHandle{}, fmt.Errorf("no model provider configured")
	}

	m.mu.Lock()
	if m.running >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return SubagentHandle{}, fmt.Errorf("%w (limit %d)", ErrTooManySubagents, m.cfg.MaxConcurrent)
	}
	m.running++
	m.mu.Unlock()

	id := uuid.NewString()[:8]
	if label == "" {
		label = task
		if r := []rune(label); len(r) > 30 {
			label = string(r[:30]) + "..."
		}
	}
	h := &SubagentHandle{
		ID:        id,
		Label:     label,
		Task:      task,
		Origin:    origin,
		Status:    SubagentRunning,
		StartedAt: time.Now(),
	}
	m.handles.Set(id, h)
	m.logger.Info("subagent spawned", "id", id, "label", label, "origin", origin.String())
	m.cfg.Events.Emit(bus.Event{
		Type:    bus.EventSubagentSpawned,
		Source:  "subagents",
		Payload: map[string]any{"id": id, "label": label, "origin": origin.String()},
	})

	// The run outlives the spawning exchange, so it must not inherit its
	// cancellation.
	runCtx := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go m.run(runCtx, h)

	return m.snapshot(h), nil
}

func (m *SubagentManager) run(ctx context.Context, h *SubagentHandle) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	child := NewLoop(LoopConfig{
		Provider:      m.cfg.Provider,
		Sessions:      session.NewManager(session.ManagerConfig{Storage: session.NewMemoryStorage(), Logger: m.cfg.Logger}),
		Context:       m.cfg.Context.ForSubagent(),
		Tools:         m.tools,
		Bus:           m.cfg.Bus,
		Events:        m.cfg.Events,
		Logger:        m.cfg.Logger,
		Model:         m.cfg.Model,
		MaxIterations: m.cfg.MaxIterations,
		MaxTokens:     m.cfg.MaxTokens,
		Temperature:   m.cfg.Temperature,
		RateLimiter:   m.cfg.RateLimiter,
		Name:          "subagent-" + h.ID,
	})

	result, err := m.execute(ctx, child, h)

	m.mu.Lock()
	h.DoneAt = time.Now()
	if err != nil {
		h.Status = SubagentFailed
		h.Error = err.Error()
	} else {
		h.Status = SubagentCompleted
		h.Result = result
	}
	snap := *h
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("subagent failed", "id", h.ID, "err", err)
	} else {
		m.logger.Info("subagent completed", "id", h.ID, "result_len", len(result))
	}
	m.cfg.Events.Emit(bus.Event{
		Type:    bus.EventSubagentCompleted,
		Source:  "subagents",
		Payload: map[string]any{"id": h.ID, "status": string(snap.Status)},
	})

	m.announce(snap)
}

// execute runs the task, converting a panic into a failure.
func (m *SubagentManager) execute(ctx context.Context, child *Loop, h *SubagentHandle) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("subagent panicked: %v", p)
		}
	}()
	return child.ProcessDirect(ctx, h.Task, "subagent:"+h.ID, h.Origin.Channel, h.Origin.ChatID)
}

// announce re-enters the main loop through the system channel, addressed to
// the origin conversation.
func (m *SubagentManager) announce(h SubagentHandle) {
	if m.cfg.Bus == nil {
		return
	}
	var content string
	if h.Status == SubagentCompleted {
		content = fmt.Sprintf("Subagent task %q completed.\n\nTask: %s\n\nResult:\n%s\n\nSummarize this for the user in a natural way.", h.Label, h.Task, h.Result)
	} else {
		content = fmt.Sprintf("Subagent task %q failed.\n\nTask: %s\n\nError: %s\n\nTell the user briefly what went wrong.", h.Label, h.Task, h.Error)
	}
	origin := h.Origin
	m.cfg.Bus.PublishInbound(domain.InboundMessage{
		Channel:   domain.SystemChannel,
		SenderID:  subagentSender,
		ChatID:    origin.String(),
		Content:   content,
		Timestamp: time.Now(),
		Origin:    &origin,
	})
}

func (m *SubagentManager) snapshot(h *SubagentHandle) SubagentHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *h
}

// Get returns a copy of the handle with the given id.
func (m *SubagentManager) Get(id string) (SubagentHandle, bool) {
	h, ok := m.handles.Get(id)
	if !ok {
		return SubagentHandle{}, false
	}
	return m.snapshot(h), true
}

// List returns all handles, oldest first.
func (m *SubagentManager) List() []SubagentHandle {
	var out []SubagentHandle
	m.handles.ForEach(func(_ string, h *SubagentHandle) bool {
		out = append(out, m.snapshot(h))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Running reports how many subagents are in flight.
func (m *SubagentManager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Wait blocks until every spawned subagent has finished.
func (m *SubagentManager) Wait() {
	m.wg.Wait()
}

var _ tool.Spawner = (*SubagentManager)(nil)
