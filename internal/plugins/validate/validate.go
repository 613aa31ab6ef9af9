// Package validate enforces per-command rate limits: a minimum interval
// between calls and a maximum number of calls per day, both kept on the
// user row so they survive restarts.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/router"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

// DateKey is the usage entry holding the day the counters belong to.
const DateKey = "$date"

// Plugin is the installed validator.
type Plugin struct {
	now      func() time.Time
	location *time.Location
}

// Option configures the plugin.
type Option func(*Plugin)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// WithLocation sets the time zone in which the daily counters reset.
func WithLocation(loc *time.Location) Option {
	return func(p *Plugin) { p.location = loc }
}

// Install declares the usage and timers columns for every rate-limited
// command and checks limits before each action.
func Install(r *router.Router, opts ...Option) *Plugin {
	p := &Plugin{now: time.Now, location: time.Local}
	for _, opt := range opts {
		opt(p)
	}

	r.OnCommandRegistered(func(c *command.Command) {
		if c.MaxUsage > 0 {
			c.NeedUserFields(store.FieldUsage)
		}
		if c.MinInterval > 0 {
			c.NeedUserFields(store.FieldTimers)
		}
	})
	r.OnBeforeCommand(router.Selector{}, p.check)
	return p
}

// day numbers calendar days in the plugin's location.
func (p *Plugin) day(t time.Time) int {
	y, m, d := t.In(p.location).Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func (p *Plugin) check(ctx context.Context, s *router.Session, inv *command.Invocation) (bool, error) {
	u := s.User
	cmd := inv.Command
	if u == nil || inv.Options.Has("help") || (cmd.MaxUsage <= 0 && cmd.MinInterval <= 0) {
		return false, nil
	}

	bucket := cmd.UsageBucket()
	now := p.now()

	if cmd.MinInterval > 0 && u.Has(store.FieldTimers) {
		if next := u.Timer(bucket); now.Before(next) {
			wait := next.Sub(now).Round(time.Second)
			return true, p.warn(ctx, s, inv, fmt.Sprintf("please wait %s before using %s again", wait, cmd.FullName()))
		}
	}

	counted := cmd.MaxUsage > 0 && u.Has(store.FieldUsage) && !exempt(inv)
	if counted {
		if today := p.day(now); u.Usage(DateKey) != today {
			u.ResetUsage()
			u.SetUsage(DateKey, today)
		}
		if u.Usage(bucket) >= cmd.MaxUsage {
			return true, p.warn(ctx, s, inv, fmt.Sprintf("daily limit of %d reached for %s", cmd.MaxUsage, cmd.FullName()))
		}
	}

	if cmd.MinInterval > 0 && u.Has(store.FieldTimers) {
		u.SetTimer(bucket, now.Add(cmd.MinInterval))
	}
	if counted {
		u.SetUsage(bucket, u.Usage(bucket)+1)
	}
	return false, nil
}

// exempt reports whether a passed option opts the call out of usage counting.
func exempt(inv *command.Invocation) bool {
	for _, name := range inv.Options.Names() {
		if opt, ok := inv.Command.Option(name); ok && opt.NoUsage {
			return true
		}
	}
	return false
}

func (p *Plugin) warn(ctx context.Context, s *router.Session, inv *command.Invocation, text string) error {
	slog.Debug("command rate limited", "command", inv.Command.FullName(), "user", s.UserID, "reason", text)
	if !inv.Command.ShowWarning {
		return nil
	}
	return s.Reply(ctx, text)
}
