package router

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

type (
	// FieldsHook adds row columns to load for a session.
	FieldsHook func(s *Session, fields store.FieldSet)
	// GroupHook inspects a loaded group row; returning true aborts dispatch.
	GroupHook func(ctx context.Context, s *Session, g *store.Group) bool
	// UserHook inspects a loaded user row; returning true aborts dispatch.
	UserHook func(ctx context.Context, s *Session, u *store.User) bool
	// AttachHook runs once both rows are attached.
	AttachHook func(ctx context.Context, s *Session)
	// BeforeCommandHook runs before a command action; returning true means
	// the hook handled the invocation and the action is skipped.
	BeforeCommandHook func(ctx context.Context, s *Session, inv *command.Invocation) (bool, error)
	// SessionHook observes a session after its middleware chain finished.
	SessionHook func(s *Session)
)

var hookSeq atomic.Uint64

type hookEntry[F any] struct {
	id  uint64
	sel Selector
	fn  F
}

// hookList is a selector-scoped, concurrency-safe listener list.
type hookList[F any] struct {
	mu      sync.RWMutex
	entries []hookEntry[F]
}

func (l *hookList[F]) add(sel Selector, fn F) (remove func()) {
	id := hookSeq.Add(1)
	l.mu.Lock()
	l.entries = append(l.entries, hookEntry[F]{id: id, sel: sel, fn: fn})
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.entries = slices.DeleteFunc(l.entries, func(e hookEntry[F]) bool { return e.id == id })
		l.mu.Unlock()
	}
}

func (l *hookList[F]) matching(s *Session) []F {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]F, 0, len(l.entries))
	for _, e := range l.entries {
		if e.sel.Match(s) {
			out = append(out, e.fn)
		}
	}
	return out
}

type hooks struct {
	beforeAttachGroup hookList[FieldsHook]
	attachGroup       hookList[GroupHook]
	beforeAttachUser  hookList[FieldsHook]
	attachUser        hookList[UserHook]
	attach            hookList[AttachHook]
	beforeCommand     hookList[BeforeCommandHook]
	afterMiddleware   hookList[SessionHook]
}

// OnBeforeAttachGroup declares extra group columns to load.
func (r *Router) OnBeforeAttachGroup(sel Selector, fn FieldsHook) func() {
	return r.hooks.beforeAttachGroup.add(sel, fn)
}

// OnAttachGroup may veto a group before it is attached.
func (r *Router) OnAttachGroup(sel Selector, fn GroupHook) func() {
	return r.hooks.attachGroup.add(sel, fn)
}

// OnBeforeAttachUser declares extra user columns to load.
func (r *Router) OnBeforeAttachUser(sel Selector, fn FieldsHook) func() {
	return r.hooks.beforeAttachUser.add(sel, fn)
}

// OnAttachUser may veto a user before it is attached.
func (r *Router) OnAttachUser(sel Selector, fn UserHook) func() {
	return r.hooks.attachUser.add(sel, fn)
}

// OnAttach runs after all rows are attached, before the middleware chain.
func (r *Router) OnAttach(sel Selector, fn AttachHook) func() {
	return r.hooks.attach.add(sel, fn)
}

// OnBeforeCommand intercepts command execution.
func (r *Router) OnBeforeCommand(sel Selector, fn BeforeCommandHook) func() {
	return r.hooks.beforeCommand.add(sel, fn)
}

// OnAfterMiddleware runs during dispatch cleanup, before rows are flushed.
func (r *Router) OnAfterMiddleware(sel Selector, fn SessionHook) func() {
	return r.hooks.afterMiddleware.add(sel, fn)
}

// OnCommandRegistered is notified once per command node, including nodes
// registered before the call.
func (r *Router) OnCommandRegistered(fn command.RegisteredFunc) {
	r.registry.OnRegistered(fn)
}
