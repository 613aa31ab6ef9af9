// Package onebot connects to a OneBot v11 implementation over a forward
// WebSocket. Events and action responses share the connection; responses
// are matched to requests by their echo field.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/channels"
	"github.com/nextlevelbuilder/botgate/internal/config"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	maxBackoff       = 30 * time.Second
)

var errNotConnected = errors.New("onebot not connected")

// Channel is a OneBot forward-WebSocket client.
type Channel struct {
	*channels.BaseChannel
	endpoint    string
	accessToken string

	mu      sync.Mutex // guards conn and serializes writes
	conn    *websocket.Conn
	pending sync.Map // echo string → chan *frame

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a OneBot channel from a bot entry.
func New(cfg config.BotConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("onebot endpoint is required")
	}
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(cfg.InstanceName(), config.BotTypeOneBot, msgBus, cfg.AllowFrom),
		endpoint:    cfg.Endpoint,
		accessToken: cfg.AccessToken,
	}
	c.SetSelfID(cfg.SelfID)
	return c, nil
}

// Factory adapts New to channels.Factory.
func Factory(cfg config.BotConfig, msgBus *bus.MessageBus) (channels.Channel, error) {
	return New(cfg, msgBus)
}

// Start connects and begins listening. A failed first dial is retried in
// the background.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting onebot channel", "channel", c.Name(), "endpoint", c.endpoint)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})

	if err := c.connect(ctx); err != nil {
		slog.Warn("initial onebot connection failed, will retry", "channel", c.Name(), "error", err)
	}

	go c.listenLoop(loopCtx)
	c.SetRunning(true)
	return nil
}

// Stop closes the connection and waits for the listen loop to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping onebot channel", "channel", c.Name())
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.dropConn()
	if c.done != nil {
		<-c.done
	}
	return nil
}

// LoginInfo calls get_login_info and returns the bot's account ID.
func (c *Channel) LoginInfo(ctx context.Context) (string, error) {
	data, err := c.call(ctx, "get_login_info", struct{}{})
	if err != nil {
		return "", err
	}
	var info loginInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "", fmt.Errorf("decode login info: %w", err)
	}
	if info.UserID == "" {
		return "", errors.New("onebot login info has no user_id")
	}
	return info.UserID.String(), nil
}

// Send delivers an outbound message via send_private_msg or send_group_msg.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	action, params, err := sendAction(msg)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, action, params)
	return err
}

// call sends an action and waits for the response carrying the same echo.
func (c *Channel) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	echo := uuid.NewString()
	ch := make(chan *frame, 1)
	c.pending.Store(echo, ch)
	defer c.pending.Delete(echo)

	data, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return nil, fmt.Errorf("marshal onebot %s: %w", action, err)
	}
	if err := c.write(data); err != nil {
		return nil, fmt.Errorf("onebot %s: %w", action, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("onebot %s: %w", action, errNotConnected)
		}
		if err := resp.responseError(action); err != nil {
			return nil, err
		}
		return resp.Data, nil
	}
}

func (c *Channel) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// connect establishes the WebSocket connection, sending the access token
// as a Bearer header.
func (c *Channel) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return fmt.Errorf("dial onebot %s: %w", c.endpoint, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("onebot connected", "channel", c.Name(), "endpoint", c.endpoint)
	return nil
}

// dropConn closes the connection and fails every waiting call.
func (c *Channel) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.pending.Range(func(key, _ any) bool {
		if v, ok := c.pending.LoadAndDelete(key); ok {
			close(v.(chan *frame))
		}
		return true
	})
}

// listenLoop reads frames with automatic reconnection.
func (c *Channel) listenLoop(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting onebot reconnect", "channel", c.Name(), "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(ctx); err != nil {
				slog.Warn("onebot reconnect failed", "channel", c.Name(), "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("onebot read error, will reconnect", "channel", c.Name(), "error", err)
			}
			c.dropConn()
			continue
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleFrame(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		slog.Warn("invalid onebot frame", "channel", c.Name(), "error", err)
		return
	}

	if f.PostType == "" && f.Echo != "" {
		if v, ok := c.pending.LoadAndDelete(f.Echo); ok {
			v.(chan *frame) <- f
		}
		return
	}

	msg, ok := f.inbound()
	if !ok {
		if f.PostType != "meta_event" {
			slog.Debug("onebot event skipped", "post_type", f.PostType, "message_type", f.MessageType)
		}
		return
	}
	if msg.SelfID != "" && c.SelfID() == "" {
		c.SetSelfID(msg.SelfID)
	}
	c.HandleMessage(msg)
}
