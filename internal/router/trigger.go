package router

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/botgate/internal/command"
)

// DenyFunc is called when a user lacks the authority for a command or one
// of its options. reason names what was denied.
type DenyFunc func(ctx context.Context, s *Session, inv *command.Invocation, reason string) error

// commandTrigger is always the first middleware. A resolved command is run
// here and ends the chain; anything else continues to later middlewares.
func (r *Router) commandTrigger(ctx context.Context, s *Session, next NextFunc) error {
	if s.Argv == nil {
		return next(ctx)
	}
	return r.execute(ctx, s, s.Argv, s.ArgvErr)
}

// execute runs the gates and the action of an invocation. parseErr is the
// option parse failure, which is reported to the user instead of running.
func (r *Router) execute(ctx context.Context, s *Session, inv *command.Invocation, parseErr error) error {
	inv.Session = s
	cmd := inv.Command

	if parseErr != nil {
		return s.Reply(ctx, parseErr.Error())
	}

	// Authority is only enforced when a user row is attached.
	if u := s.User; u != nil {
		if req := cmd.RequiredAuthority(); u.Authority() < req {
			return r.deny(ctx, s, inv, fmt.Sprintf("command %s requires authority %d", cmd.FullName(), req))
		}
		for _, name := range inv.Options.Names() {
			if opt, ok := cmd.Option(name); ok && u.Authority() < opt.Authority {
				return r.deny(ctx, s, inv, fmt.Sprintf("option --%s requires authority %d", name, opt.Authority))
			}
		}
	}

	if cmd.Disabled(inv) {
		r.log.Debug("command disabled", "command", cmd.FullName(), "session", s.ID)
		return nil
	}

	for _, fn := range r.hooks.beforeCommand.matching(s) {
		handled, err := fn(ctx, s, inv)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	if cmd.Action == nil {
		return nil
	}
	r.log.Debug("executing command", "command", cmd.FullName(), "args", inv.Args, "session", s.ID)
	return cmd.Action(ctx, inv)
}

func (r *Router) deny(ctx context.Context, s *Session, inv *command.Invocation, reason string) error {
	r.log.Debug("command denied", "command", inv.Command.FullName(), "user", s.UserID, "reason", reason)
	if r.denyFn == nil {
		return nil
	}
	return r.denyFn(ctx, s, inv, reason)
}
