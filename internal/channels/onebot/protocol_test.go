package onebot

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

func TestFrame_Inbound(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantKind  bus.PeerKind
		wantChat  string
		wantGroup string
	}{
		{
			"private",
			`{"post_type":"message","message_type":"private","message_id":11,"user_id":42,"self_id":10000,"raw_message":"ping","sender":{"nickname":"alice"}}`,
			true, bus.PeerDirect, "42", "",
		},
		{
			"group",
			`{"post_type":"message","message_type":"group","message_id":12,"user_id":42,"group_id":777,"self_id":10000,"raw_message":"[CQ:at,qq=10000] ping"}`,
			true, bus.PeerGroup, "777", "777",
		},
		{"heartbeat", `{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":10000}`, false, "", "", ""},
		{"notice", `{"post_type":"notice","notice_type":"group_increase","user_id":1}`, false, "", "", ""},
		{"group without id", `{"post_type":"message","message_type":"group","user_id":42,"raw_message":"x"}`, false, "", "", ""},
		{"unknown type", `{"post_type":"message","message_type":"guild","user_id":42,"raw_message":"x"}`, false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := decodeFrame([]byte(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			msg, ok := f.inbound()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if msg.PeerKind != tt.wantKind || msg.ChatID != tt.wantChat || msg.GroupID != tt.wantGroup {
				t.Errorf("kind/chat/group = %q/%q/%q", msg.PeerKind, msg.ChatID, msg.GroupID)
			}
			if msg.SenderID != "42" || msg.SelfID != "10000" {
				t.Errorf("sender/self = %q/%q", msg.SenderID, msg.SelfID)
			}
		})
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	if _, err := decodeFrame([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
}

func TestFrame_ResponseError(t *testing.T) {
	ok := &frame{Status: "ok"}
	if err := ok.responseError("get_login_info"); err != nil {
		t.Errorf("ok status: %v", err)
	}
	failed := &frame{Status: "failed", Retcode: 100, Message: "bad", Wording: "group not found"}
	err := failed.responseError("send_group_msg")
	var ae *ActionError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *ActionError", err)
	}
	if ae.Retcode != 100 || ae.Message != "group not found" {
		t.Errorf("ActionError = %+v", ae)
	}
}

func TestSendAction(t *testing.T) {
	action, params, err := sendAction(bus.OutboundMessage{ChatID: "777", PeerKind: bus.PeerGroup, Content: "pong",
		Metadata: map[string]string{"reply_to": "12"}})
	if err != nil {
		t.Fatal(err)
	}
	gp, ok := params.(sendGroupParams)
	if action != "send_group_msg" || !ok || gp.GroupID != 777 || gp.Message != "[CQ:reply,id=12]pong" {
		t.Errorf("got %s %+v", action, params)
	}

	action, params, err = sendAction(bus.OutboundMessage{ChatID: "42", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	pp, ok := params.(sendPrivateParams)
	if action != "send_private_msg" || !ok || pp.UserID != 42 || pp.Message != "hi" {
		t.Errorf("got %s %+v", action, params)
	}

	if _, _, err := sendAction(bus.OutboundMessage{ChatID: "abc"}); err == nil {
		t.Error("expected error for non-numeric chat ID")
	}
}
