package command

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

var ErrDuplicateCommand = errors.New("duplicate command name")

// RegisteredFunc is notified once for every node added to a registry.
type RegisteredFunc func(c *Command)

// Registry indexes every node of the command forest by lower-cased name and
// alias. It is owned by one router and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	roots     []*Command
	names     map[string]*Command
	shortcuts []*Shortcut
	listeners []RegisteredFunc
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]*Command)}
}

// OnRegistered adds a listener for newly registered nodes. Nodes registered
// earlier are replayed to the listener so late plugins see the whole tree.
func (r *Registry) OnRegistered(fn RegisteredFunc) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	existing := r.all()
	r.mu.Unlock()
	for _, c := range existing {
		fn(c)
	}
}

// Register adds root commands together with their subtrees. Each root is
// all-or-nothing: on error none of its nodes are indexed or announced.
func (r *Registry) Register(cmds ...*Command) error {
	for _, c := range cmds {
		if c.Parent() != nil {
			return fmt.Errorf("register %q: not a root command", c.Name)
		}
		if err := r.index(c, true); err != nil {
			return err
		}
	}
	return nil
}

// index checks every name and alias in c's subtree, then commits them in one
// step and notifies listeners. Registering a node twice is a duplicate.
func (r *Registry) index(c *Command, root bool) error {
	nodes := subtree(c)

	r.mu.Lock()
	pending := make(map[string]*Command)
	for _, n := range nodes {
		for _, name := range append([]string{n.Name}, n.Aliases...) {
			key := strings.ToLower(name)
			if key == "" {
				r.mu.Unlock()
				return fmt.Errorf("register %q: empty name or alias", n.Name)
			}
			prev, ok := r.names[key]
			if !ok {
				if p, dup := pending[key]; dup && p != n {
					prev, ok = p, true
				}
			}
			if ok {
				r.mu.Unlock()
				return fmt.Errorf("register %q: %w: %q already used by %q", n.Name, ErrDuplicateCommand, name, prev.FullName())
			}
			pending[key] = n
		}
	}
	maps.Copy(r.names, pending)
	for _, n := range nodes {
		n.mu.Lock()
		n.registry = r
		n.mu.Unlock()
	}
	if root {
		r.roots = append(r.roots, c)
	}
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	for _, n := range nodes {
		slog.Debug("command registered", "command", n.FullName(), "aliases", n.Aliases)
		for _, fn := range listeners {
			fn(n)
		}
	}
	return nil
}

// subtree lists c and its descendants, parents before children.
func subtree(c *Command) []*Command {
	out := []*Command{c}
	for _, sub := range c.Children() {
		out = append(out, subtree(sub)...)
	}
	return out
}

// Lookup resolves a single leading token. Matching is case-insensitive and
// a trailing "@segment" (as in "ping@my_bot") is ignored.
func (r *Registry) Lookup(token string) *Command {
	key := strings.ToLower(stripNamespace(token))
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[key]
}

// Resolve looks up tokens[0] and descends through children while the next
// tokens name subcommands. It returns the deepest node and the remaining
// arguments, or nil when the first token is not a command.
func (r *Registry) Resolve(tokens []string) (*Command, []string) {
	if len(tokens) == 0 {
		return nil, nil
	}
	c := r.Lookup(tokens[0])
	if c == nil {
		return nil, tokens
	}
	rest := tokens[1:]
	for len(rest) > 0 {
		sub := c.child(rest[0])
		if sub == nil {
			break
		}
		c, rest = sub, rest[1:]
	}
	return c, rest
}

// Roots returns the root commands in registration order.
func (r *Registry) Roots() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.roots)
}

// Walk visits every registered node depth-first, roots in registration order.
func (r *Registry) Walk(fn func(c *Command, depth int)) {
	var visit func(c *Command, depth int)
	visit = func(c *Command, depth int) {
		fn(c, depth)
		for _, sub := range c.Children() {
			visit(sub, depth+1)
		}
	}
	for _, c := range r.Roots() {
		visit(c, 0)
	}
}

// all lists every indexed node once. Callers hold r.mu.
func (r *Registry) all() []*Command {
	seen := make(map[*Command]bool, len(r.names))
	var out []*Command
	for _, c := range r.names {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *Command) int { return strings.Compare(a.FullName(), b.FullName()) })
	return out
}

func stripNamespace(token string) string {
	if i := strings.IndexByte(token, '@'); i > 0 {
		return token[:i]
	}
	return token
}
