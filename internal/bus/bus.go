package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conduit/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// Config tunes an InMemoryBus.
type Config struct {
	BufferSize     int
	PublishTimeout time.Duration // how long a publish may wait on a full queue
	Logger         *slog.Logger
}

// InMemoryBus is a Go-channel based message bus for in-process communication.
// Delivery is best effort: a message that cannot be queued within the publish
// timeout is dropped and logged.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	outbound       chan domain.OutboundMessage
	handlers       map[string]domain.OutboundHandler
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	return NewWithConfig(Config{BufferSize: bufferSize, Logger: logger})
}

func NewWithConfig(cfg Config) *InMemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, cfg.BufferSize),
		outbound:       make(chan domain.OutboundMessage, cfg.BufferSize),
		handlers:       make(map[string]domain.OutboundHandler),
		publishTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger,
	}
}

// PublishInbound enqueues msg for the agent loop. It waits up to the publish
// timeout if the queue is full instead of dropping immediately.
func (b *InMemoryBus) PublishInbound(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "channel", msg.Channel)
		case <-timer.C:
			b.logger.Error("inbound message dropped: bus full",
				"channel", msg.Channel,
				"sender", msg.SenderID,
				"waited", b.publishTimeout,
			)
		}
	}
}

// ConsumeInbound blocks until a message arrives, ctx is done or the bus is closed.
// The second result is false in the latter two cases.
func (b *InMemoryBus) ConsumeInbound(ctx context.Context) (domain.InboundMessage, bool) {
	select {
	case msg, ok := <-b.inbound:
		return msg, ok
	case <-ctx.Done():
		return domain.InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for DispatchOutbound.
func (b *InMemoryBus) PublishOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish outbound to closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.outbound <- msg:
	default:
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.outbound <- msg:
		case <-timer.C:
			b.logger.Error("outbound message dropped: bus full",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
			)
		}
	}
}

func (b *InMemoryBus) ConsumeOutbound(ctx context.Context) (domain.OutboundMessage, bool) {
	select {
	case msg, ok := <-b.outbound:
		return msg, ok
	case <-ctx.Done():
		return domain.OutboundMessage{}, false
	}
}

// OnOutbound registers the delivery handler for a channel, replacing any previous one.
func (b *InMemoryBus) OnOutbound(channel string, handler domain.OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = handler
}

// DispatchOutbound routes queued outbound messages to their channel handlers
// until ctx is done or the bus is closed.
func (b *InMemoryBus) DispatchOutbound(ctx context.Context) {
	for {
		msg, ok := b.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		b.deliver(msg)
	}
}

func (b *InMemoryBus) deliver(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel",
			"channel", msg.Channel,
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound handler panic", "channel", msg.Channel, "panic", r)
		}
	}()
	handler(msg)
}

// Close stops accepting messages and wakes blocked consumers. Safe to call
// multiple times.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
		close(b.outbound)
	}
}

var _ domain.MessageBus = (*InMemoryBus)(nil)
