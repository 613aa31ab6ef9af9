// Package discord connects a Discord bot account through the gateway API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/channels"
	"github.com/nextlevelbuilder/botgate/internal/config"
)

const maxMessageLen = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session *discordgo.Session
}

// New creates a new Discord channel from a bot entry.
func New(cfg config.BotConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(cfg.InstanceName(), config.BotTypeDiscord, msgBus, cfg.AllowFrom),
		session:     session,
	}
	c.SetSelfID(cfg.SelfID)
	return c, nil
}

// Factory adapts New to channels.Factory.
func Factory(cfg config.BotConfig, msgBus *bus.MessageBus) (channels.Channel, error) {
	return New(cfg, msgBus)
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting discord bot", "channel", c.Name())

	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if c.SelfID() == "" {
		id, err := c.LoginInfo(ctx)
		if err != nil {
			_ = c.session.Close()
			return err
		}
		c.SetSelfID(id)
	}

	c.SetRunning(true)
	slog.Info("discord bot connected", "channel", c.Name(), "id", c.SelfID())
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot", "channel", c.Name())
	c.SetRunning(false)
	return c.session.Close()
}

// LoginInfo returns the bot's own user ID.
func (c *Channel) LoginInfo(ctx context.Context) (string, error) {
	user, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch discord bot identity: %w", err)
	}
	return user.ID, nil
}

// Send delivers an outbound message to a Discord channel, chunked at the
// platform limit. The first chunk replies to the triggering message.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return errors.New("discord bot not running")
	}
	if msg.ChatID == "" {
		return errors.New("empty chat ID for discord send")
	}

	replyTo := msg.Metadata["reply_to"]
	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		send := &discordgo.MessageSend{Content: chunk}
		if replyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: msg.ChatID}
			replyTo = ""
		}
		if _, err := c.session.ChannelMessageSendComplex(msg.ChatID, send, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := inboundFromMessage(m.Message, c.SelfID())
	if !ok {
		return
	}
	slog.Debug("discord message received",
		"sender_id", msg.SenderID,
		"channel_id", msg.ChatID,
		"peer_kind", msg.PeerKind,
		"preview", channels.Truncate(msg.Content, 50),
	)
	c.HandleMessage(msg)
}

// inboundFromMessage converts a gateway message. Bot authors, including
// this bot, are dropped. Mentions stay in the content as "<@id>" markup.
func inboundFromMessage(m *discordgo.Message, selfID string) (bus.InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return bus.InboundMessage{}, false
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		SenderID:  m.Author.ID + "|" + m.Author.Username,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Content:   content,
		PeerKind:  bus.PeerDirect,
		Metadata: map[string]string{
			"username":     m.Author.Username,
			"display_name": resolveDisplayName(m),
			"guild_id":     m.GuildID,
		},
	}
	if m.GuildID != "" {
		msg.PeerKind = bus.PeerGroup
		msg.GroupID = m.ChannelID
	}
	return msg, true
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// splitMessage cuts content into chunks of at most maxLen bytes, preferring
// a newline in the second half of each chunk.
func splitMessage(content string, maxLen int) []string {
	var chunks []string
	for len(content) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}
