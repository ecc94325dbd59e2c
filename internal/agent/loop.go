package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"

	"conduit/internal/bus"
	"conduit/internal/domain"
	"conduit/internal/session"
	"conduit/internal/tool"
)

const (
	defaultMaxIterations = 20
	defaultHistoryLimit  = 50
	defaultMaxTokens     = 4096
	defaultTemperature   = 0.7
)

// EmptyReply is delivered to a chat when an exchange finished without text.
// Sessions and ProcessDirect callers see the empty answer as is.
const EmptyReply = "I've completed processing but have no response to give."

// State is the lifecycle position of the most recent exchange.
type State int32

const (
	StateWaiting State = iota
	StateDispatched
	StateIterating
	StateCompleted
	StateFailed
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateDispatched:
		return "dispatched"
	case StateIterating:
		return "iterating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider      domain.Provider
	Sessions      *session.Manager
	Context       *ContextBuilder
	Tools         *tool.Registry
	Bus           domain.MessageBus
	Events        *bus.EventBus
	Logger        *slog.Logger
	RateLimiter   *RateLimiter // optional throttle on model calls
	Model         string
	MaxIterations int
	HistoryLimit  int
	MaxTokens     int
	Temperature   float64
	Name          string // log label, "main" unless set
}

// Loop is the core agent engine: receive message, call the model, execute
// tools, respond. Exchanges on the same session key never overlap, whether
// they come from Run or ProcessDirect.
type Loop struct {
	provider      domain.Provider
	sessions      *session.Manager
	context       *ContextBuilder
	tools         *tool.Registry
	bus           domain.MessageBus
	events        *bus.EventBus
	logger        *slog.Logger
	limiter       *RateLimiter
	model         string
	maxIterations int
	historyLimit  int
	maxTokens     int
	temperature   float64
	name          string

	state    atomic.Int32
	locks    *haxmap.Map[string, *sync.Mutex]
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "main"
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager(session.ManagerConfig{Logger: cfg.Logger})
	}
	if cfg.Context == nil {
		cfg.Context = NewContextBuilder(ContextConfig{Logger: cfg.Logger})
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry(cfg.Logger)
	}
	if cfg.Model == "" && cfg.Provider != nil {
		cfg.Model = cfg.Provider.DefaultModel()
	}
	return &Loop{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		context:       cfg.Context,
		tools:         cfg.Tools,
		bus:           cfg.Bus,
		events:        cfg.Events,
		logger:        cfg.Logger.With("loop", cfg.Name),
		limiter:       cfg.RateLimiter,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		historyLimit:  cfg.HistoryLimit,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		name:          cfg.Name,
		locks:         haxmap.New[string, *sync.Mutex](),
		stopCh:        make(chan struct{}),
	}
}

// State reports the lifecycle state of the most recent exchange.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) Tools() *tool.Registry { return l.tools }

func (l *Loop) Sessions() *session.Manager { return l.sessions }

func (l *Loop) Provider() domain.Provider { return l.provider }

func (l *Loop) ContextBuilder() *ContextBuilder { return l.context }

func (l *Loop) setState(s State, key string) {
	l.state.Store(int32(s))
	l.events.Emit(bus.Event{
		Type:    bus.EventExchangeState,
		Source:  "agent." + l.name,
		Payload: map[string]any{"state": s.String(), "session": key},
	})
}

// Run consumes inbound messages one at a time until ctx is done, the bus
// closes or Stop is called. An exchange in progress when Stop is called
// runs to completion first.
func (l *Loop) Run(ctx context.Context) error {
	if l.bus == nil {
		return fmt.Errorf("agent loop has no message bus")
	}
	l.logger.Info("agent loop started", "model", l.model, "tools", l.tools.Len())

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		select {
		case <-l.stopCh:
			l.logger.Info("agent loop stopped")
			return nil
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return nil
		default:
		}

		msg, ok := l.bus.ConsumeInbound(waitCtx)
		if !ok {
			l.logger.Info("agent loop stopping")
			return nil
		}
		l.handleInbound(ctx, msg)
	}
}

// Stop makes Run return after the current exchange. Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// exchange is one inbound request resolved to its session and reply destination.
type exchange struct {
	key      string
	input    string
	media    []string
	dest     domain.Destination
	sender   string
	commands bool
}

// handleInbound runs one bus message and publishes exactly one reply, or
// none when the message cannot be routed.
func (l *Loop) handleInbound(ctx context.Context, msg domain.InboundMessage) {
	dest, err := msg.Route()
	if err != nil {
		l.logger.Warn("dropping message with invalid destination",
			"channel", msg.Channel, "sender", msg.SenderID, "chat_id", msg.ChatID, "err", err)
		l.events.Emit(bus.Event{
			Type:    bus.EventMessageDropped,
			Source:  "agent." + l.name,
			Payload: map[string]any{"channel": msg.Channel, "chat_id": msg.ChatID, "reason": err.Error()},
		})
		return
	}

	ex := exchange{
		key:      msg.Key(),
		input:    msg.Content,
		media:    msg.Media,
		dest:     dest,
		sender:   msg.SenderID,
		commands: true,
	}
	if msg.IsSystem() {
		ex.key = dest.String()
		ex.input = fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content)
		ex.commands = false
	}

	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"session", ex.key,
		"content_len", len(msg.Content),
	)

	reply, err := l.runExchange(ctx, ex)
	if err != nil {
		l.logger.Error("message processing failed", "session", ex.key, "err", err)
		reply = fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
	} else if strings.TrimSpace(reply) == "" {
		reply = EmptyReply
	}

	l.bus.PublishOutbound(domain.OutboundMessage{
		Channel: dest.Channel,
		ChatID:  dest.ChatID,
		Content: reply,
	})
}

// ProcessDirect runs one exchange synchronously and returns the final text
// without publishing it. An empty sessionKey defaults to channel:chatID.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) (string, error) {
	if sessionKey == "" {
		sessionKey = channel + ":" + chatID
	}
	return l.runExchange(ctx, exchange{
		key:      sessionKey,
		input:    content,
		dest:     domain.Destination{Channel: channel, ChatID: chatID},
		sender:   "direct",
		commands: true,
	})
}

func (l *Loop) sessionLock(key string) *sync.Mutex {
	mu, _ := l.locks.GetOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	return mu
}

// runExchange is the main agent logic: build turns, call the model, loop on
// tool calls, persist and return the final text.
func (l *Loop) runExchange(ctx context.Context, ex exchange) (string, error) {
	mu := l.sessionLock(ex.key)
	mu.Lock()
	defer mu.Unlock()

	l.setState(StateDispatched, ex.key)

	sess, err := l.sessions.GetOrCreate(ctx, ex.key)
	if err != nil {
		l.setState(StateFailed, ex.key)
		return "", fmt.Errorf("session error: %w", err)
	}

	if ex.commands {
		if cmd := ParseCommand(ex.input); cmd != nil {
			if res := l.HandleCommand(ctx, cmd, sess); res.Handled {
				l.setState(StateCompleted, ex.key)
				return res.Response, nil
			}
		}
	}

	if l.provider == nil {
		l.setState(StateFailed, ex.key)
		return "", fmt.Errorf("no model provider configured")
	}

	history := l.sessions.History(sess, l.historyLimit)
	msgs := l.context.BuildMessages(history, ex.input, ex.media, ex.dest.Channel, ex.dest.ChatID)

	toolCtx := tool.WithScope(ctx, tool.Scope{
		Channel:    ex.dest.Channel,
		ChatID:     ex.dest.ChatID,
		SessionKey: ex.key,
	})

	l.setState(StateIterating, ex.key)
	final, iterations, exhausted, err := l.iterate(toolCtx, msgs)
	if err != nil {
		l.setState(StateFailed, ex.key)
		return "", err
	}

	user := domain.Message{Role: domain.RoleUser, Content: ex.input}
	if len(ex.media) > 0 {
		user.Media = append([]string(nil), ex.media...)
	}
	l.sessions.AppendMessage(sess, user)
	l.sessions.Append(sess, domain.RoleAssistant, final)
	if err := l.sessions.Save(ctx, sess); err != nil {
		l.logger.Error("failed to save session", "session", ex.key, "err", err)
		l.events.Emit(bus.Event{
			Type:    bus.EventSessionSaveFailed,
			Source:  "agent." + l.name,
			Payload: map[string]any{"session": ex.key, "err": err.Error()},
		})
	}

	if exhausted {
		l.logger.Warn("iteration budget exhausted", "session", ex.key, "max", l.maxIterations)
		l.setState(StateExhausted, ex.key)
	} else {
		l.setState(StateCompleted, ex.key)
	}
	l.logger.Info("exchange finished", "session", ex.key, "iterations", iterations, "reply_len", len(final))
	return final, nil
}

// iterate calls the model until it answers without tool calls or the
// budget runs out. On exhaustion the last content seen is returned.
func (l *Loop) iterate(ctx context.Context, msgs []domain.Message) (final string, iterations int, exhausted bool, err error) {
	defs := l.tools.Definitions()
	var last string

	for i := 1; i <= l.maxIterations; i++ {
		l.logger.Debug("agent iteration", "iteration", i, "messages", len(msgs))

		if err := l.limiter.Wait(ctx); err != nil {
			return "", i, false, fmt.Errorf("rate limit: %w", err)
		}

		start := time.Now()
		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    msgs,
			Tools:       defs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return "", i, false, fmt.Errorf("LLM error: %w", err)
		}
		if resp == nil {
			return "", i, false, fmt.Errorf("LLM error: empty response")
		}
		resp.LatencyMs = time.Since(start).Milliseconds()

		// Some smaller models embed tool calls as JSON in the content field.
		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := l.knownCalls(extractToolCallsFromContent(resp.Content)); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				l.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		last = resp.Content
		if !resp.HasToolCalls() {
			return stripRolePrefix(resp.Content), i, false, nil
		}

		for j := range resp.ToolCalls {
			if resp.ToolCalls[j].ID == "" {
				resp.ToolCalls[j].ID = fmt.Sprintf("call_%d_%d", i, j)
			}
		}
		msgs = l.context.AddAssistantMessage(msgs, resp.Content, resp.ToolCalls)

		// Sequential, in request order.
		for _, call := range resp.ToolCalls {
			l.logger.Info("executing tool", "tool", call.Name)
			toolStart := time.Now()
			res := l.tools.Execute(ctx, call)
			l.events.Emit(bus.Event{
				Type:   bus.EventToolExecuted,
				Source: "agent." + l.name,
				Payload: map[string]any{
					"tool":        call.Name,
					"ok":          res.OK,
					"duration_ms": time.Since(toolStart).Milliseconds(),
				},
			})
			msgs = l.context.AddToolResult(msgs, call.ID, call.Name, res.Content)
		}
	}
	return stripRolePrefix(last), l.maxIterations, true, nil
}

// knownCalls keeps the extracted calls that name a registered tool, so a
// plain answer that happens to contain JSON is not mistaken for a call.
func (l *Loop) knownCalls(calls []domain.ToolCall) []domain.ToolCall {
	known := calls[:0]
	for _, c := range calls {
		if l.tools.Get(c.Name) != nil {
			known = append(known, c)
		}
	}
	return known
}
