package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

// Frames arriving on a forward WebSocket are either events (post_type set)
// or responses to actions (echo set).
type frame struct {
	PostType string `json:"post_type"`
	Echo     string `json:"echo"`

	// message events
	MessageType string      `json:"message_type"`
	SubType     string      `json:"sub_type"`
	MessageID   json.Number `json:"message_id"`
	UserID      json.Number `json:"user_id"`
	GroupID     json.Number `json:"group_id"`
	SelfID      json.Number `json:"self_id"`
	RawMessage  string      `json:"raw_message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`

	// action responses
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
}

type loginInfo struct {
	UserID   json.Number `json:"user_id"`
	Nickname string      `json:"nickname"`
}

type sendPrivateParams struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

type sendGroupParams struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

// ActionError is a failed action response.
type ActionError struct {
	Action  string
	Retcode int
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("onebot %s failed: retcode %d: %s", e.Action, e.Retcode, e.Message)
}

func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode onebot frame: %w", err)
	}
	return &f, nil
}

// responseError converts a non-ok response into an ActionError.
func (f *frame) responseError(action string) error {
	if f.Status == "ok" || f.Status == "async" {
		return nil
	}
	msg := f.Wording
	if msg == "" {
		msg = f.Message
	}
	if msg == "" {
		msg = f.Status
	}
	return &ActionError{Action: action, Retcode: f.Retcode, Message: msg}
}

// inbound converts a message event. Other post types and empty messages
// yield false. Mentions stay as "[CQ:at,qq=ID]" codes in the content.
func (f *frame) inbound() (bus.InboundMessage, bool) {
	if f.PostType != "message" || f.RawMessage == "" || f.UserID == "" {
		return bus.InboundMessage{}, false
	}
	msg := bus.InboundMessage{
		SelfID:    f.SelfID.String(),
		SenderID:  f.UserID.String(),
		ChatID:    f.UserID.String(),
		MessageID: f.MessageID.String(),
		Content:   f.RawMessage,
		PeerKind:  bus.PeerDirect,
		Metadata: map[string]string{
			"nickname": f.Sender.Nickname,
			"sub_type": f.SubType,
		},
	}
	switch f.MessageType {
	case "private":
	case "group":
		if f.GroupID == "" {
			return bus.InboundMessage{}, false
		}
		msg.PeerKind = bus.PeerGroup
		msg.GroupID = f.GroupID.String()
		msg.ChatID = msg.GroupID
		if f.Sender.Card != "" {
			msg.Metadata["card"] = f.Sender.Card
		}
	default:
		return bus.InboundMessage{}, false
	}
	return msg, true
}

// sendAction builds the action that delivers an outbound message.
func sendAction(msg bus.OutboundMessage) (string, any, error) {
	id, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid onebot chat ID %q: %w", msg.ChatID, err)
	}
	text := msg.Content
	if r := msg.Metadata["reply_to"]; r != "" {
		text = "[CQ:reply,id=" + r + "]" + text
	}
	if msg.PeerKind == bus.PeerGroup {
		return "send_group_msg", sendGroupParams{GroupID: id, Message: text}, nil
	}
	return "send_private_msg", sendPrivateParams{UserID: id, Message: text}, nil
}
