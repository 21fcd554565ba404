package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/modclaw/pkg/logger"
)

var (
	ErrClosed     = errors.New("bus: closed")
	ErrBufferFull = errors.New("bus: outbound buffer full")
)

// Publisher is the feedback gateway seen by the command engine.
type Publisher interface {
	Publish(msg FeedbackMessage) error
}

// ToActor builds a feedback message for a single actor.
func ToActor(actorID, text string, severity Severity, data map[string]any) FeedbackMessage {
	return FeedbackMessage{Recipient: actorID, Text: text, Severity: severity, Data: data}
}

// ToAll builds a broadcast feedback message.
func ToAll(text string, severity Severity, data map[string]any) FeedbackMessage {
	return FeedbackMessage{Recipient: Broadcast, Text: text, Severity: severity, Data: data}
}

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan FeedbackMessage
	handlers map[string]MessageHandler
	closed   bool
	mu       sync.RWMutex
}

func NewMessageBus(bufferSize int) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, bufferSize),
		outbound: make(chan FeedbackMessage, bufferSize),
		handlers: make(map[string]MessageHandler),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.inbound <- msg
}

// ConsumeInbound returns the next inbound message and whether the read succeeded.
// The bool is false when the context is cancelled or the channel is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Publish enqueues a feedback message without blocking. A full buffer drops
// the message; the caller only logs the error.
func (mb *MessageBus) Publish(msg FeedbackMessage) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Severity == "" {
		msg.Severity = SeverityInfo
	}

	select {
	case mb.outbound <- msg:
		return nil
	default:
		logger.WarnCF("bus", "Dropping feedback message, outbound buffer full", map[string]any{
			"recipient": msg.Recipient,
			"event":     msg.Event,
		})
		return ErrBufferFull
	}
}

// Subscribe returns the next outbound message and whether the read succeeded.
// The bool is false when the context is cancelled or the channel is closed.
func (mb *MessageBus) Subscribe(ctx context.Context) (FeedbackMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-ctx.Done():
		return FeedbackMessage{}, false
	}
}

// Pending reports how many feedback messages are waiting to be delivered.
func (mb *MessageBus) Pending() int {
	return len(mb.outbound)
}

func (mb *MessageBus) RegisterHandler(channel string, handler MessageHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[channel] = handler
}

func (mb *MessageBus) GetHandler(channel string) (MessageHandler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.handlers[channel]
	return handler, ok
}

// Run feeds inbound messages to the handler registered for their channel
// until ctx is done or the bus is closed.
func (mb *MessageBus) Run(ctx context.Context) {
	for {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			return
		}
		handler, found := mb.GetHandler(msg.Channel)
		if !found {
			logger.WarnCF("bus", "No handler for inbound channel", map[string]any{"channel": msg.Channel})
			continue
		}
		if err := handler(msg); err != nil {
			logger.ErrorCF("bus", "Inbound handler failed", map[string]any{
				"channel": msg.Channel,
				"sender":  msg.SenderID,
				"error":   err.Error(),
			})
		}
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}
