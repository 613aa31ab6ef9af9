package bus

import "context"

// PeerKind distinguishes private conversations from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// InboundMessage represents a message received from a channel (Telegram, Discord, OneBot, ...).
type InboundMessage struct {
	Channel   string            `json:"channel"`              // bot instance name, e.g. "telegram" or "onebot:main"
	Platform  string            `json:"platform"`             // "telegram", "discord", "onebot"
	SelfID    string            `json:"self_id"`              // identity of the receiving bot
	SenderID  string            `json:"sender_id"`            // platform user ID of the author
	ChatID    string            `json:"chat_id"`              // reply target (user ID for DMs, channel/group ID otherwise)
	GroupID   string            `json:"group_id,omitempty"`   // set for group conversations
	MessageID string            `json:"message_id,omitempty"` // platform message ID
	Content   string            `json:"content"`
	PeerKind  PeerKind          `json:"peer_kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsGroup reports whether the message came from a group conversation.
func (m InboundMessage) IsGroup() bool { return m.PeerKind == PeerGroup }

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	PeerKind PeerKind          `json:"peer_kind,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata (reply_to, ...)
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between channels and the dispatcher.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
