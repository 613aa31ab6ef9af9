// Package store defines the persisted user and group rows the dispatcher
// attaches to each message, and the Database collaborator that loads and
// flushes them.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Database used after Close.
var ErrClosed = errors.New("store: database closed")

// Database loads and persists user/group rows.
//
// LoadUser and LoadGroup load-or-create: a missing row is inserted with
// Defaults and returned. The returned row reports exactly the requested
// fields as loaded. SaveUser and SaveGroup persist only the row's dirty
// columns; they are no-ops for clean rows and clear the dirty set on success.
type Database interface {
	LoadUser(ctx context.Context, key Key, fields FieldSet) (*User, error)
	SaveUser(ctx context.Context, u *User) error
	LoadGroup(ctx context.Context, key Key, fields FieldSet) (*Group, error)
	SaveGroup(ctx context.Context, g *Group) error
	Close() error
}
