package command

import (
	"context"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Identity names where an invocation came from.
type Identity struct {
	Platform string
	SelfID   string // receiving bot
	UserID   string
	GroupID  string // empty for private messages
}

// Session is the per-message context an action runs in.
type Session interface {
	Reply(ctx context.Context, text string) error
	Identity() Identity
	// UserRow and GroupRow are nil when storage is disabled or the
	// message carried no group.
	UserRow() *store.User
	GroupRow() *store.Group
}

// Invocation is a parsed command call.
type Invocation struct {
	Command *Command
	Args    []string
	Options Values
	Session Session
}

// Reply answers on the invocation's session; it is a no-op without one.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	if inv.Session == nil {
		return nil
	}
	return inv.Session.Reply(ctx, text)
}

// User returns the attached user row, or nil.
func (inv *Invocation) User() *store.User {
	if inv.Session == nil {
		return nil
	}
	return inv.Session.UserRow()
}

// Group returns the attached group row, or nil.
func (inv *Invocation) Group() *store.Group {
	if inv.Session == nil {
		return nil
	}
	return inv.Session.GroupRow()
}
