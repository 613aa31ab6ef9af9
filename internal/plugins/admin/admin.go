// Package admin registers the built-in management commands.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/plugins/help"
	"github.com/nextlevelbuilder/botgate/internal/router"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Authority levels of the built-in commands.
const (
	AuthorityManage    = 3
	AuthorityAuthorize = 4
)

// replyError is a failure the caller is told about instead of one that is
// logged as a middleware error.
type replyError string

func (e replyError) Error() string { return string(e) }

const errNoStorage = replyError("storage is disabled")

type plugin struct {
	r *router.Router
}

// Install registers ping, authorize, assign, silent and ignore on r.
func Install(r *router.Router) error {
	p := &plugin{r: r}

	ping := &command.Command{
		Name:        "ping",
		Description: "Check that the bot is alive",
		Action: func(ctx context.Context, inv *command.Invocation) error {
			return inv.Reply(ctx, "pong")
		},
	}

	authorize := &command.Command{
		Name:        "authorize",
		Aliases:     []string{"auth"},
		Description: "Set a user's authority level",
		Authority:   AuthorityAuthorize,
		Action:      p.authorize,
	}
	help.Usage.Set(authorize, "<[platform:]user> <level>")
	help.Examples.Set(authorize, []string{"authorize onebot:123456 3", "authorize 123456 0"})

	assign := &command.Command{
		Name:        "assign",
		Description: "Make this bot the one that answers in this group",
		Authority:   AuthorityManage,
		Action:      p.assign,
	}

	ignore := &command.Command{
		Name:        "ignore",
		Description: "Ignore every message from a group or user",
		Authority:   AuthorityManage,
		Action:      p.ignore,
	}
	ignore.AddOption(command.Option{Name: "off", Description: "stop ignoring"})
	ignore.AddOption(command.Option{Name: "user", Short: "u", TakesValue: true, Description: "ignore a user instead of a group"})
	help.Usage.Set(ignore, "[group-id]")
	help.Examples.Set(ignore, []string{"ignore", "ignore --off 123456", "ignore -u onebot:42"})

	silent := &command.Command{
		Name:        "silent",
		Description: "Keep handling commands in this group but send no replies",
		Authority:   AuthorityManage,
		Action:      p.silent,
	}
	silent.AddOption(command.Option{Name: "off", Description: "resume replying"})

	return r.Command(ping, authorize, assign, ignore, silent)
}

// parseKey reads "platform:id", defaulting the platform to the caller's.
func parseKey(s, platform string) (store.Key, error) {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		platform, s = s[:i], s[i+1:]
	}
	if s == "" || platform == "" {
		return store.Key{}, fmt.Errorf("invalid user %q", s)
	}
	return store.Key{Platform: platform, ID: s}, nil
}

func (p *plugin) authorize(ctx context.Context, inv *command.Invocation) error {
	if len(inv.Args) != 2 {
		return inv.Reply(ctx, "usage: authorize <[platform:]user> <level>")
	}
	id := inv.Session.Identity()
	key, err := parseKey(inv.Args[0], id.Platform)
	if err != nil {
		return inv.Reply(ctx, err.Error())
	}
	level, err := strconv.Atoi(inv.Args[1])
	if err != nil || level < 0 {
		return inv.Reply(ctx, fmt.Sprintf("invalid level %q", inv.Args[1]))
	}
	if caller := inv.User(); caller != nil && level > caller.Authority() {
		return inv.Reply(ctx, "cannot grant authority above your own")
	}

	err = p.withUser(ctx, inv, key, func(u *store.User) {
		u.SetAuthority(level)
	})
	if err != nil {
		return p.fail(ctx, inv, err)
	}
	return inv.Reply(ctx, fmt.Sprintf("authority of %s set to %d", key, level))
}

func (p *plugin) assign(ctx context.Context, inv *command.Invocation) error {
	g := inv.Group()
	if g == nil {
		return inv.Reply(ctx, "assign only works in a group")
	}
	self := inv.Session.Identity().SelfID
	if self == "" {
		return inv.Reply(ctx, "bot identity is not known yet")
	}
	g.SetAssignee(self)
	return inv.Reply(ctx, fmt.Sprintf("group %s assigned to %s", g.ID, self))
}

func (p *plugin) ignore(ctx context.Context, inv *command.Invocation) error {
	off := inv.Options.Bool("off")
	id := inv.Session.Identity()

	if raw := inv.Options.String("user"); raw != "" {
		key, err := parseKey(raw, id.Platform)
		if err != nil {
			return inv.Reply(ctx, err.Error())
		}
		err = p.withUser(ctx, inv, key, func(u *store.User) {
			u.SetFlag(toggle(u.Flag(), store.UserFlagIgnore, !off))
		})
		if err != nil {
			return p.fail(ctx, inv, err)
		}
		return inv.Reply(ctx, fmt.Sprintf("user %s %s", key, verb(off)))
	}

	err := p.withGroup(ctx, inv, func(g *store.Group) {
		g.SetFlag(toggle(g.Flag(), store.GroupFlagIgnore, !off))
	})
	if err != nil {
		return p.fail(ctx, inv, err)
	}
	return inv.Reply(ctx, fmt.Sprintf("group %s", verb(off)))
}

func (p *plugin) silent(ctx context.Context, inv *command.Invocation) error {
	off := inv.Options.Bool("off")
	g := inv.Group()
	if g == nil {
		return inv.Reply(ctx, "silent only works in a group")
	}
	g.SetFlag(toggle(g.Flag(), store.GroupFlagSilent, !off))
	if off {
		return inv.Reply(ctx, "replies resumed")
	}
	// Silent groups swallow replies, so there is no confirmation.
	return nil
}

// withUser mutates a user row. The caller's own row is changed in place and
// flushed with the session; any other row is loaded and saved directly.
func (p *plugin) withUser(ctx context.Context, inv *command.Invocation, key store.Key, fn func(*store.User)) error {
	if u := inv.User(); u != nil && u.Key == key {
		fn(u)
		return nil
	}
	db := p.r.Database()
	if db == nil {
		return errNoStorage
	}
	u, err := db.LoadUser(ctx, key, store.NewFieldSet(store.FieldAuthority, store.FieldFlag))
	if err != nil {
		return fmt.Errorf("load user %s: %w", key, err)
	}
	fn(u)
	if err := db.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("save user %s: %w", key, err)
	}
	return nil
}

// withGroup mutates the target group: the first argument names one on the
// caller's platform, otherwise the current group is used.
func (p *plugin) withGroup(ctx context.Context, inv *command.Invocation, fn func(*store.Group)) error {
	id := inv.Session.Identity()
	if len(inv.Args) == 0 || (inv.Group() != nil && inv.Args[0] == inv.Group().ID) {
		g := inv.Group()
		if g == nil {
			return replyError("not in a group; pass a group id")
		}
		fn(g)
		return nil
	}
	db := p.r.Database()
	if db == nil {
		return errNoStorage
	}
	key := store.Key{Platform: id.Platform, ID: inv.Args[0]}
	g, err := db.LoadGroup(ctx, key, store.NewFieldSet(store.FieldFlag))
	if err != nil {
		return fmt.Errorf("load group %s: %w", key, err)
	}
	fn(g)
	if err := db.SaveGroup(ctx, g); err != nil {
		return fmt.Errorf("save group %s: %w", key, err)
	}
	return nil
}

func (p *plugin) fail(ctx context.Context, inv *command.Invocation, err error) error {
	var re replyError
	if errors.As(err, &re) {
		return inv.Reply(ctx, re.Error())
	}
	return err
}

func toggle[F ~uint32](flags, bit F, on bool) F {
	if on {
		return flags | bit
	}
	return flags &^ bit
}

func verb(off bool) string {
	if off {
		return "no longer ignored"
	}
	return "ignored"
}
