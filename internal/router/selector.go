package router

import (
	"slices"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

// Selector scopes a middleware or hook to a subset of sessions.
//
// Every non-empty list must contain the session's value for the selector to
// match. All, Any and Not compose selectors: every entry of All must match,
// at least one entry of Any must match (when Any is set), and Not must not
// match. The zero Selector matches every session. Selectors are plain data
// and can be loaded from config.
type Selector struct {
	Platforms []string       `json:"platforms,omitempty"`
	Channels  []string       `json:"channels,omitempty"`
	SelfIDs   []string       `json:"self_ids,omitempty"`
	Users     []string       `json:"users,omitempty"`
	Groups    []string       `json:"groups,omitempty"`
	Kinds     []bus.PeerKind `json:"kinds,omitempty"`

	All []Selector `json:"all,omitempty"`
	Any []Selector `json:"any,omitempty"`
	Not *Selector  `json:"not,omitempty"`
}

// Match is a pure predicate over session attributes.
func (sel Selector) Match(s *Session) bool {
	if !in(sel.Platforms, s.Platform) ||
		!in(sel.Channels, s.Channel) ||
		!in(sel.SelfIDs, s.SelfID) ||
		!in(sel.Users, s.UserID) ||
		!in(sel.Groups, s.GroupID) ||
		!in(sel.Kinds, s.Kind) {
		return false
	}
	for _, sub := range sel.All {
		if !sub.Match(s) {
			return false
		}
	}
	if len(sel.Any) > 0 && !slices.ContainsFunc(sel.Any, func(sub Selector) bool { return sub.Match(s) }) {
		return false
	}
	if sel.Not != nil && sel.Not.Match(s) {
		return false
	}
	return true
}

// Intersect matches sessions both selectors match.
func (sel Selector) Intersect(other Selector) Selector {
	return Selector{All: []Selector{sel, other}}
}

// Union matches sessions either selector matches.
func (sel Selector) Union(other Selector) Selector {
	return Selector{Any: []Selector{sel, other}}
}

// Except matches sessions sel matches and other does not.
func (sel Selector) Except(other Selector) Selector {
	return Selector{All: []Selector{sel}, Not: &other}
}

// Private selects direct conversations.
func Private() Selector { return Selector{Kinds: []bus.PeerKind{bus.PeerDirect}} }

// Groups selects group conversations, optionally limited to ids.
func Groups(ids ...string) Selector {
	return Selector{Kinds: []bus.PeerKind{bus.PeerGroup}, Groups: ids}
}

// Users selects sessions authored by ids.
func Users(ids ...string) Selector { return Selector{Users: ids} }

// Platforms selects sessions from the given platforms.
func Platforms(names ...string) Selector { return Selector{Platforms: names} }

func in[T comparable](list []T, v T) bool {
	return len(list) == 0 || slices.Contains(list, v)
}
