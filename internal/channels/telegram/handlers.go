package telegram

import (
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

// inboundFromMessage converts an update message. Service messages, bot
// authors and messages without text are dropped. A leading text_mention
// entity is rewritten to "@id" so mention stripping sees it.
func inboundFromMessage(message *telego.Message) (bus.InboundMessage, bool) {
	if message == nil || message.From == nil || message.From.IsBot {
		return bus.InboundMessage{}, false
	}
	text := message.Text
	entities := message.Entities
	if text == "" {
		text, entities = message.Caption, message.CaptionEntities
	}
	if text == "" {
		return bus.InboundMessage{}, false
	}
	text = rewriteTextMention(text, entities)

	user := message.From
	userID := strconv.FormatInt(user.ID, 10)
	senderID := userID
	if user.Username != "" {
		senderID = userID + "|" + user.Username
	}
	chatID := strconv.FormatInt(message.Chat.ID, 10)

	msg := bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    chatID,
		MessageID: strconv.Itoa(message.MessageID),
		Content:   text,
		PeerKind:  bus.PeerDirect,
		Metadata: map[string]string{
			"username":   user.Username,
			"first_name": user.FirstName,
			"chat_type":  message.Chat.Type,
		},
	}
	if isGroupChat(message.Chat.Type) {
		msg.PeerKind = bus.PeerGroup
		msg.GroupID = chatID
	}
	return msg, true
}

func isGroupChat(chatType string) bool {
	return chatType == telego.ChatTypeGroup || chatType == telego.ChatTypeSupergroup
}

// rewriteTextMention replaces a text_mention at offset 0 (users without a
// username) with "@<user id>". Offsets are UTF-16 code units.
func rewriteTextMention(text string, entities []telego.MessageEntity) string {
	for _, e := range entities {
		if e.Type != telego.EntityTypeTextMention || e.Offset != 0 || e.User == nil {
			continue
		}
		cut := utf16Index(text, e.Length)
		return "@" + strconv.FormatInt(e.User.ID, 10) + text[cut:]
	}
	return text
}

// utf16Index returns the byte offset in s after n UTF-16 code units.
func utf16Index(s string, n int) int {
	units := 0
	for i, r := range s {
		if units >= n {
			return i
		}
		units++
		if r >= 0x10000 {
			units++
		}
	}
	return len(s)
}

// splitRunes cuts s into chunks of at most n runes.
func splitRunes(s string, n int) []string {
	var chunks []string
	runes := []rune(s)
	for len(runes) > n {
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
