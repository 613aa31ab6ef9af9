package router

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

// attach loads the group and user rows a session needs. It returns false
// when the message must be dropped; that is control flow, not an error.
func (r *Router) attach(ctx context.Context, s *Session) (bool, error) {
	if s.IsGroup() && s.GroupID != "" {
		fields := store.NewFieldSet(store.FieldFlag, store.FieldAssignee)
		for _, fn := range r.hooks.beforeAttachGroup.matching(s) {
			fn(s, fields)
		}
		if s.Argv != nil {
			s.Argv.Command.CollectGroupFields(s.Argv, fields)
		}

		g, err := r.db.LoadGroup(ctx, s.GroupKey(), fields)
		if err != nil {
			return false, fmt.Errorf("attach group %s: %w", s.GroupKey(), err)
		}
		for _, fn := range r.hooks.attachGroup.matching(s) {
			if fn(ctx, s, g) {
				return false, nil
			}
		}
		if g.Ignored() {
			return false, nil
		}
		if g.Assignee() == "" && r.autoAssign && s.SelfID != "" {
			g.SetAssignee(s.SelfID)
		}
		s.Group = g
		if g.Assignee() != s.SelfID && !s.Parsed.AtMe {
			return false, nil
		}
	}

	fields := store.NewFieldSet(store.FieldFlag)
	for _, fn := range r.hooks.beforeAttachUser.matching(s) {
		fn(s, fields)
	}
	if s.Argv != nil {
		fields.Add(store.FieldAuthority)
		s.Argv.Command.CollectUserFields(s.Argv, fields)
	}

	u, err := r.db.LoadUser(ctx, s.UserKey(), fields)
	if err != nil {
		return false, fmt.Errorf("attach user %s: %w", s.UserKey(), err)
	}
	for _, fn := range r.hooks.attachUser.matching(s) {
		if fn(ctx, s, u) {
			return false, nil
		}
	}
	if u.Ignored() {
		return false, nil
	}
	s.User = u

	for _, fn := range r.hooks.attach.matching(s) {
		fn(ctx, s)
	}
	return true, nil
}

// observeFor makes sure the rows attached to s carry every column inv
// declares, loading and merging only the missing ones.
func (r *Router) observeFor(ctx context.Context, s *Session, inv *command.Invocation) error {
	if r.db == nil {
		return nil
	}
	userFields := store.NewFieldSet(store.FieldFlag, store.FieldAuthority)
	inv.Command.CollectUserFields(inv, userFields)
	if err := r.ObserveUser(ctx, s, userFields); err != nil {
		return err
	}
	if s.Group == nil {
		return nil
	}
	groupFields := store.NewFieldSet()
	inv.Command.CollectGroupFields(inv, groupFields)
	return r.ObserveGroup(ctx, s, groupFields)
}

// ObserveUser loads the user columns in fields that s.User lacks.
func (r *Router) ObserveUser(ctx context.Context, s *Session, fields store.FieldSet) error {
	if r.db == nil {
		return nil
	}
	if s.User != nil {
		fields = fields.Without(s.User.Loaded())
		if len(fields) == 0 {
			return nil
		}
	}
	u, err := r.db.LoadUser(ctx, s.UserKey(), fields)
	if err != nil {
		return fmt.Errorf("observe user %s: %w", s.UserKey(), err)
	}
	if s.User == nil {
		s.User = u
	} else {
		s.User.Merge(u)
	}
	return nil
}

// ObserveGroup loads the group columns in fields that s.Group lacks.
func (r *Router) ObserveGroup(ctx context.Context, s *Session, fields store.FieldSet) error {
	if r.db == nil || !s.IsGroup() {
		return nil
	}
	if s.Group != nil {
		fields = fields.Without(s.Group.Loaded())
		if len(fields) == 0 {
			return nil
		}
	}
	g, err := r.db.LoadGroup(ctx, s.GroupKey(), fields)
	if err != nil {
		return fmt.Errorf("observe group %s: %w", s.GroupKey(), err)
	}
	if s.Group == nil {
		s.Group = g
	} else {
		s.Group.Merge(g)
	}
	return nil
}

// flush persists pending row mutations.
func (r *Router) flush(ctx context.Context, s *Session) {
	if r.db == nil {
		return
	}
	if s.User != nil && s.User.IsDirty() {
		if err := r.db.SaveUser(ctx, s.User); err != nil {
			r.log.Error("flush user failed", "user", s.UserKey().String(), "error", err)
		}
	}
	if s.Group != nil && s.Group.IsDirty() {
		if err := r.db.SaveGroup(ctx, s.Group); err != nil {
			r.log.Error("flush group failed", "group", s.GroupKey().String(), "error", err)
		}
	}
}
