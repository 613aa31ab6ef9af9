package onebot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/config"
)

// fakeImpl is a minimal OneBot implementation: it answers get_login_info,
// records send actions, and pushes one group message after connecting.
type fakeImpl struct {
	t     *testing.T
	sent  chan actionRequest
	token string
}

func (f *fakeImpl) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "Bearer "+f.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	event := `{"post_type":"message","message_type":"group","message_id":5,"user_id":42,"group_id":777,"self_id":10000,"raw_message":"[CQ:at,qq=10000] ping"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Action string          `json:"action"`
			Params json.RawMessage `json:"params"`
			Echo   string          `json:"echo"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			f.t.Errorf("bad request: %v", err)
			return
		}
		resp := map[string]any{"status": "ok", "retcode": 0, "echo": req.Echo}
		switch req.Action {
		case "get_login_info":
			resp["data"] = map[string]any{"user_id": 10000, "nickname": "bot"}
		default:
			var params map[string]any
			_ = json.Unmarshal(req.Params, &params)
			f.sent <- actionRequest{Action: req.Action, Params: params, Echo: req.Echo}
			resp["data"] = map[string]any{"message_id": 99}
		}
		out, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func TestChannel_RoundTrip(t *testing.T) {
	impl := &fakeImpl{t: t, sent: make(chan actionRequest, 1), token: "secret"}
	srv := httptest.NewServer(impl)
	defer srv.Close()

	b := bus.New()
	ch, err := New(config.BotConfig{
		Type:        config.BotTypeOneBot,
		Name:        "qq",
		Endpoint:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		AccessToken: "secret",
	}, b)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer ch.Stop(context.Background())

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if msg.Channel != "qq" || msg.Platform != "onebot" || msg.GroupID != "777" || msg.SelfID != "10000" {
		t.Errorf("inbound = %+v", msg)
	}

	id, err := ch.LoginInfo(ctx)
	if err != nil || id != "10000" {
		t.Fatalf("LoginInfo = %q, %v", id, err)
	}

	err = ch.Send(ctx, bus.OutboundMessage{Channel: "qq", ChatID: "777", PeerKind: bus.PeerGroup, Content: "pong"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case req := <-impl.sent:
		params := req.Params.(map[string]any)
		if req.Action != "send_group_msg" || params["message"] != "pong" || params["group_id"] != float64(777) {
			t.Errorf("sent %+v", req)
		}
	case <-ctx.Done():
		t.Fatal("send action not received")
	}
}

func TestChannel_CallWithoutConnection(t *testing.T) {
	ch, err := New(config.BotConfig{Type: config.BotTypeOneBot, Endpoint: "ws://127.0.0.1:1"}, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.LoginInfo(context.Background()); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(config.BotConfig{Type: config.BotTypeOneBot}, bus.New()); err == nil {
		t.Error("expected error for missing endpoint")
	}
}
