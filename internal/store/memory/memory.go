// Package memory is an in-process store.Database used for tests and for
// deployments that do not need rows to survive a restart.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Store keeps rows in maps guarded by a mutex.
type Store struct {
	defaults store.Defaults

	mu     sync.Mutex
	users  map[store.Key]store.UserData
	groups map[store.Key]store.GroupData
	closed bool
}

func New(defaults store.Defaults) *Store {
	return &Store{
		defaults: defaults,
		users:    make(map[store.Key]store.UserData),
		groups:   make(map[store.Key]store.GroupData),
	}
}

func (s *Store) LoadUser(_ context.Context, key store.Key, fields store.FieldSet) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	data, ok := s.users[key]
	if !ok {
		data = store.UserData{Authority: s.defaults.UserAuthority}
		s.users[key] = data
	}
	return store.NewUser(key, copyUser(data), fields), nil
}

func (s *Store) SaveUser(_ context.Context, u *store.User) error {
	if !u.IsDirty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	cur := s.users[u.Key]
	src := u.Data()
	for f := range u.Dirty() {
		switch f {
		case store.FieldAuthority:
			cur.Authority = src.Authority
		case store.FieldFlag:
			cur.Flag = src.Flag
		case store.FieldName:
			cur.Name = src.Name
		case store.FieldUsage:
			cur.Usage = src.Usage
		case store.FieldTimers:
			cur.Timers = src.Timers
		}
	}
	s.users[u.Key] = cur
	u.ClearDirty()
	return nil
}

func (s *Store) LoadGroup(_ context.Context, key store.Key, fields store.FieldSet) (*store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	data, ok := s.groups[key]
	if !ok {
		s.groups[key] = data
	}
	return store.NewGroup(key, data, fields), nil
}

func (s *Store) SaveGroup(_ context.Context, g *store.Group) error {
	if !g.IsDirty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	cur := s.groups[g.Key]
	src := g.Data()
	for f := range g.Dirty() {
		switch f {
		case store.FieldFlag:
			cur.Flag = src.Flag
		case store.FieldAssignee:
			cur.Assignee = src.Assignee
		}
	}
	s.groups[g.Key] = cur
	g.ClearDirty()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func copyUser(d store.UserData) store.UserData {
	d.Usage = maps.Clone(d.Usage)
	d.Timers = maps.Clone(d.Timers)
	return d
}
