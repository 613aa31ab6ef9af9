// Package bus carries messages between transports and the dispatcher.
//
// Channels publish InboundMessage values; the channel manager consumes them
// and hands each one to the router on its own goroutine. Replies travel the
// other way as OutboundMessage values.
package bus

import (
	"context"
	"log/slog"
)

const defaultBufferSize = 256

// MessageBus is an in-process MessageRouter backed by buffered channels.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

var _ MessageRouter = (*MessageBus)(nil)

// New creates a MessageBus with the default buffer size.
func New() *MessageBus {
	return NewWithBuffer(defaultBufferSize)
}

// NewWithBuffer creates a MessageBus whose queues hold up to size messages.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

// PublishInbound enqueues a message received from a channel.
// Drops the message when the inbound queue is full so a slow dispatcher
// never blocks a transport's receive loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, message dropped", "channel", msg.Channel, "sender_id", msg.SenderID)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues a reply. Blocks while the outbound queue is full.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound blocks until a reply is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
