package telegram

import (
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/command"
)

func TestInboundFromMessage(t *testing.T) {
	alice := &telego.User{ID: 42, Username: "alice"}
	tests := []struct {
		name     string
		msg      *telego.Message
		wantOK   bool
		wantKind bus.PeerKind
		wantText string
	}{
		{"private", &telego.Message{MessageID: 7, From: alice, Chat: telego.Chat{ID: 42, Type: "private"}, Text: "/ping"}, true, bus.PeerDirect, "/ping"},
		{"supergroup", &telego.Message{MessageID: 8, From: alice, Chat: telego.Chat{ID: -100, Type: "supergroup"}, Text: "@my_bot ping"}, true, bus.PeerGroup, "@my_bot ping"},
		{"caption", &telego.Message{From: alice, Chat: telego.Chat{ID: 42, Type: "private"}, Caption: "look"}, true, bus.PeerDirect, "look"},
		{"service message", &telego.Message{From: alice, Chat: telego.Chat{ID: -1, Type: "group"}}, false, "", ""},
		{"bot author", &telego.Message{From: &telego.User{ID: 1, IsBot: true}, Text: "hi"}, false, "", ""},
		{"nil", nil, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := inboundFromMessage(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.PeerKind != tt.wantKind || got.Content != tt.wantText {
				t.Errorf("got %q %q, want %q %q", got.PeerKind, got.Content, tt.wantKind, tt.wantText)
			}
			if got.SenderID != "42|alice" {
				t.Errorf("SenderID = %q", got.SenderID)
			}
			if tt.wantKind == bus.PeerGroup && got.GroupID != got.ChatID {
				t.Errorf("GroupID = %q, ChatID = %q", got.GroupID, got.ChatID)
			}
		})
	}
}

func TestRewriteTextMention(t *testing.T) {
	entities := []telego.MessageEntity{{Type: telego.EntityTypeTextMention, Offset: 0, Length: 5, User: &telego.User{ID: 555}}}
	if got := rewriteTextMention("Shiro ping", entities); got != "@555 ping" {
		t.Errorf("got %q", got)
	}
	emoji := "😀bot hi"
	entities[0].Length = 5 // the emoji is a surrogate pair
	if got := rewriteTextMention(emoji, entities); got != "@555 hi" {
		t.Errorf("utf16 offsets: got %q", got)
	}
	if got := rewriteTextMention("plain", nil); got != "plain" {
		t.Errorf("no entities: %q", got)
	}
}

func TestSplitRunes(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := splitRunes(s, 4)
	if len(got) != 3 || got[2] != "éé" {
		t.Errorf("got %q", got)
	}
}

func TestMenuFromRegistry(t *testing.T) {
	reg := command.NewRegistry()
	if err := reg.Register(
		&command.Command{Name: "ping", Description: "Check the bot"},
		&command.Command{Name: "secret", Hidden: true},
		&command.Command{Name: "Bad-Name"},
	); err != nil {
		t.Fatal(err)
	}
	menu := MenuFromRegistry(reg)
	if len(menu) != 1 || menu[0].Command != "ping" || menu[0].Description != "Check the bot" {
		t.Errorf("menu = %+v", menu)
	}
}
