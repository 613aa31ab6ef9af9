package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Session is the dispatch state of one inbound message. It is owned by the
// goroutine handling that message.
type Session struct {
	ID        uuid.UUID
	Channel   string // bot instance name
	Platform  string
	SelfID    string // receiving bot identity
	Kind      bus.PeerKind
	UserID    string
	GroupID   string
	ChatID    string
	MessageID string
	Content   string
	Metadata  map[string]string

	Parsed  Parsed
	Argv    *command.Invocation // resolved command, nil for plain conversation
	ArgvErr error               // option parse failure for Argv

	User  *store.User  // attached user row, nil without storage
	Group *store.Group // attached group row, nil for private messages or without storage

	router *Router
}

var _ command.Session = (*Session)(nil)

func (r *Router) newSession(msg bus.InboundMessage) *Session {
	s := &Session{
		ID:        uuid.New(),
		Channel:   msg.Channel,
		Platform:  msg.Platform,
		SelfID:    msg.SelfID,
		Kind:      msg.PeerKind,
		UserID:    msg.SenderID,
		GroupID:   msg.GroupID,
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Content:   msg.Content,
		Metadata:  msg.Metadata,
		router:    r,
	}
	if s.Platform == "" {
		s.Platform = msg.Channel
	}
	if s.SelfID == "" {
		s.SelfID = r.identity.Lookup(msg.Channel)
	}
	return s
}

// IsGroup reports whether the message came from a group conversation.
func (s *Session) IsGroup() bool { return s.Kind == bus.PeerGroup }

func (s *Session) UserKey() store.Key  { return store.Key{Platform: s.Platform, ID: s.UserID} }
func (s *Session) GroupKey() store.Key { return store.Key{Platform: s.Platform, ID: s.GroupID} }

func (s *Session) Identity() command.Identity {
	return command.Identity{Platform: s.Platform, SelfID: s.SelfID, UserID: s.UserID, GroupID: s.GroupID}
}

func (s *Session) UserRow() *store.User   { return s.User }
func (s *Session) GroupRow() *store.Group { return s.Group }

// Reply sends text back to the conversation the message came from. Groups
// flagged silent swallow replies.
func (s *Session) Reply(ctx context.Context, text string) error {
	if s.Group != nil && s.Group.Silent() {
		return nil
	}
	return s.router.send(ctx, bus.OutboundMessage{
		Channel:  s.Channel,
		ChatID:   s.ChatID,
		PeerKind: s.Kind,
		Content:  text,
		Metadata: map[string]string{"reply_to": s.MessageID},
	})
}

// Execute parses text as a command and runs it on this session, loading any
// row columns the command needs first. It reports whether text named a
// command.
func (s *Session) Execute(ctx context.Context, text string) (bool, error) {
	inv, err := s.router.registry.Parse(text, true)
	if inv == nil {
		return false, nil
	}
	if err := s.router.observeFor(ctx, s, inv); err != nil {
		return true, err
	}
	return true, s.router.execute(ctx, s, inv, err)
}

func (s *Session) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Channel, s.ChatID, s.UserID)
}
