// Package channels provides the transport abstraction layer for multi-platform bots.
// Channels connect external platforms (Telegram, Discord, OneBot) to the router
// via the message bus.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/config"
)

// ErrUnsupportedTransport is returned by the factory registry for bot types
// this build cannot start.
var ErrUnsupportedTransport = config.ErrUnsupportedTransport

// Channel defines the interface that all transport implementations must satisfy.
type Channel interface {
	// Name returns the bot instance name (e.g. "telegram", "onebot:main").
	Name() string

	// Platform returns the transport family ("telegram", "discord", "onebot").
	Platform() string

	// Start connects and begins delivering messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully disconnects.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is connected.
	IsRunning() bool

	// LoginInfo asks the platform for the bot's own identity.
	LoginInfo(ctx context.Context) (string, error)

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	platform  string
	bus       *bus.MessageBus
	running   atomic.Bool
	allowList []string
	selfID    atomic.Value // string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name, platform string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	c := &BaseChannel{
		name:      name,
		platform:  platform,
		bus:       msgBus,
		allowList: allowList,
	}
	c.selfID.Store("")
	return c
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// Platform returns the transport family.
func (c *BaseChannel) Platform() string { return c.platform }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// SelfID returns the bot identity learned at login (empty until known).
func (c *BaseChannel) SelfID() string { return c.selfID.Load().(string) }

// SetSelfID records the bot identity stamped on inbound messages.
func (c *BaseChannel) SetSelfID(id string) { c.selfID.Store(id) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := splitCompound(senderID)
	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := splitCompound(trimmed)

		if senderID == allowed || senderID == trimmed ||
			idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

func splitCompound(s string) (id, user string) {
	if idx := strings.IndexByte(s, '|'); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// HandleMessage stamps transport fields onto msg and publishes it to the bus.
// SenderID may use the compound "id|username" form for allowlist matching;
// only the id part is forwarded.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderID) {
		return
	}
	msg.SenderID, _ = splitCompound(msg.SenderID)
	msg.Channel = c.name
	if msg.Platform == "" {
		msg.Platform = c.platform
	}
	if msg.SelfID == "" {
		msg.SelfID = c.SelfID()
	}
	if msg.PeerKind == "" {
		msg.PeerKind = bus.PeerDirect
	}
	c.bus.PublishInbound(msg)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
