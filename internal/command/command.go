// Package command holds the command tree the dispatcher resolves parsed
// messages against: nodes with aliases, authority requirements, options,
// disable predicates, rate-limit settings, field collectors and actions.
package command

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Action runs a resolved invocation.
type Action func(ctx context.Context, inv *Invocation) error

// Disabler reports whether an invocation must not run. A true result skips
// the action silently.
type Disabler func(inv *Invocation) bool

// FieldsFunc adds the row columns an invocation needs to fields.
type FieldsFunc func(inv *Invocation, fields store.FieldSet)

// Command is one node of the command tree. Configure it before passing it
// to Registry.Register; the exported fields are read concurrently afterwards.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Hidden      bool // omitted from help listings

	// Authority is the minimum user authority required to run this node.
	// The effective requirement also includes every ancestor's.
	Authority int

	// Rate limiting, enforced by the validation plugin.
	MaxUsage    int           // uses per day per user (0 = unlimited)
	MinInterval time.Duration // minimum time between uses (0 = none)
	UsageName   string        // shared accounting bucket (default: Name)
	ShowWarning bool          // reply when a limit blocks the call

	Action Action

	mu          sync.RWMutex
	parent      *Command
	children    []*Command
	options     []*Option
	disablers   []Disabler
	userFields  []FieldsFunc
	groupFields []FieldsFunc
	meta        map[string]any
	registry    *Registry
}

// Parent returns the owning node, or nil for a root.
func (c *Command) Parent() *Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// Children returns the direct subcommands in registration order.
func (c *Command) Children() []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.children)
}

// FullName joins the names from the root down to c with spaces.
func (c *Command) FullName() string {
	parts := []string{c.Name}
	for p := c.Parent(); p != nil; p = p.Parent() {
		parts = append(parts, p.Name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, " ")
}

// AddCommand attaches subcommands. Children added to an already registered
// node are indexed immediately; a child that fails to index is detached again.
func (c *Command) AddCommand(cmds ...*Command) error {
	c.mu.Lock()
	for _, sub := range cmds {
		sub.mu.Lock()
		sub.parent = c
		sub.mu.Unlock()
		c.children = append(c.children, sub)
	}
	reg := c.registry
	c.mu.Unlock()

	if reg == nil {
		return nil
	}
	for i, sub := range cmds {
		if err := reg.index(sub, false); err != nil {
			c.detach(cmds[i:])
			return err
		}
	}
	return nil
}

func (c *Command) detach(subs []*Command) {
	c.mu.Lock()
	c.children = slices.DeleteFunc(c.children, func(n *Command) bool { return slices.Contains(subs, n) })
	c.mu.Unlock()
	for _, sub := range subs {
		sub.mu.Lock()
		sub.parent = nil
		sub.mu.Unlock()
	}
}

// child finds a direct subcommand by lower-cased name or alias.
func (c *Command) child(token string) *Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.children {
		if sub.Matches(token) {
			return sub
		}
	}
	return nil
}

// Matches reports whether token names c or one of its aliases.
func (c *Command) Matches(token string) bool {
	if strings.EqualFold(c.Name, token) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.EqualFold(a, token) {
			return true
		}
	}
	return false
}

// RequiredAuthority is the max of c's and its ancestors' Authority.
func (c *Command) RequiredAuthority() int {
	req := c.Authority
	for p := c.Parent(); p != nil; p = p.Parent() {
		req = max(req, p.Authority)
	}
	return req
}

// UsageBucket names the accounting bucket shared by usage and timers.
func (c *Command) UsageBucket() string {
	if c.UsageName != "" {
		return c.UsageName
	}
	return c.FullName()
}

// AddDisabler registers a disable predicate.
func (c *Command) AddDisabler(fn Disabler) *Command {
	c.mu.Lock()
	c.disablers = append(c.disablers, fn)
	c.mu.Unlock()
	return c
}

// Disabled reports whether any predicate of c or its ancestors rejects inv.
func (c *Command) Disabled(inv *Invocation) bool {
	for n := c; n != nil; n = n.Parent() {
		n.mu.RLock()
		ds := slices.Clone(n.disablers)
		n.mu.RUnlock()
		for _, d := range ds {
			if d(inv) {
				return true
			}
		}
	}
	return false
}

// UserFields registers a collector of user columns this command needs.
func (c *Command) UserFields(fn FieldsFunc) *Command {
	c.mu.Lock()
	c.userFields = append(c.userFields, fn)
	c.mu.Unlock()
	return c
}

// GroupFields registers a collector of group columns this command needs.
func (c *Command) GroupFields(fn FieldsFunc) *Command {
	c.mu.Lock()
	c.groupFields = append(c.groupFields, fn)
	c.mu.Unlock()
	return c
}

// NeedUserFields is a shorthand for a collector that always asks for fields.
func (c *Command) NeedUserFields(fields ...store.Field) *Command {
	return c.UserFields(func(_ *Invocation, fs store.FieldSet) { fs.Add(fields...) })
}

// NeedGroupFields is a shorthand for a collector that always asks for fields.
func (c *Command) NeedGroupFields(fields ...store.Field) *Command {
	return c.GroupFields(func(_ *Invocation, fs store.FieldSet) { fs.Add(fields...) })
}

// CollectUserFields runs the user collectors of c and its ancestors.
func (c *Command) CollectUserFields(inv *Invocation, fields store.FieldSet) {
	for n := c; n != nil; n = n.Parent() {
		n.mu.RLock()
		fns := slices.Clone(n.userFields)
		n.mu.RUnlock()
		for _, fn := range fns {
			fn(inv, fields)
		}
	}
}

// CollectGroupFields runs the group collectors of c and its ancestors.
func (c *Command) CollectGroupFields(inv *Invocation, fields store.FieldSet) {
	for n := c; n != nil; n = n.Parent() {
		n.mu.RLock()
		fns := slices.Clone(n.groupFields)
		n.mu.RUnlock()
		for _, fn := range fns {
			fn(inv, fields)
		}
	}
}
