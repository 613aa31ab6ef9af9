// Package telegram connects a Telegram bot account through Bot API long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/channels"
	"github.com/nextlevelbuilder/botgate/internal/config"
)

const maxMessageLen = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	menuMu     sync.Mutex
	menu       []telego.BotCommand
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from a bot entry.
func New(cfg config.BotConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(cfg.InstanceName(), config.BotTypeTelegram, msgBus, cfg.AllowFrom),
		bot:         bot,
	}
	c.SetSelfID(cfg.SelfID)
	return c, nil
}

// Factory adapts New to channels.Factory.
func Factory(cfg config.BotConfig, msgBus *bus.MessageBus) (channels.Channel, error) {
	return New(cfg, msgBus)
}

// SetMenu sets the commands published with setMyCommands on Start.
func (c *Channel) SetMenu(cmds []telego.BotCommand) {
	c.menuMu.Lock()
	c.menu = cmds
	c.menuMu.Unlock()
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)", "channel", c.Name())

	if c.SelfID() == "" {
		id, err := c.LoginInfo(ctx)
		if err != nil {
			return err
		}
		c.SetSelfID(id)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "channel", c.Name(), "username", c.SelfID())

	go c.syncMenu(pollCtx)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed", "channel", c.Name())
					return
				}
				if msg, ok := inboundFromMessage(update.Message); ok {
					c.HandleMessage(msg)
				}
			}
		}
	}()
	return nil
}

// syncMenu registers the menu with retry.
func (c *Channel) syncMenu(ctx context.Context) {
	c.menuMu.Lock()
	cmds := c.menu
	c.menuMu.Unlock()
	if cmds == nil {
		return
	}
	for attempt := 1; attempt <= 3; attempt++ {
		err := c.SyncMenuCommands(ctx, cmds)
		if err == nil {
			slog.Info("telegram menu commands synced", "channel", c.Name(), "count", len(cmds))
			return
		}
		slog.Warn("failed to sync telegram menu commands", "error", err, "attempt", attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt*5) * time.Second):
		}
	}
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot", "channel", c.Name())
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Wait for the polling goroutine to fully exit so that
	// Telegram releases the getUpdates lock before a new instance starts.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped", "channel", c.Name())
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// LoginInfo returns the bot's username, which is how users @-mention it.
func (c *Channel) LoginInfo(ctx context.Context) (string, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("telegram getMe: %w", err)
	}
	if me.Username == "" {
		return strconv.FormatInt(me.ID, 10), nil
	}
	return me.Username, nil
}

// Send delivers an outbound message, split at the platform limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return errors.New("telegram bot not running")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", msg.ChatID, err)
	}

	replyTo, _ := strconv.Atoi(msg.Metadata["reply_to"])
	for _, chunk := range splitRunes(msg.Content, maxMessageLen) {
		params := tu.Message(tu.ID(chatID), chunk)
		if replyTo != 0 {
			params = params.WithReplyParameters(&telego.ReplyParameters{
				MessageID:                replyTo,
				AllowSendingWithoutReply: true,
			})
			replyTo = 0
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}
