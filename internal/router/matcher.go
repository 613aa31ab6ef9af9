package router

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Parsed is the result of stripping leading address syntax from a message.
type Parsed struct {
	AtMe     bool   // the message opened with a mention of the receiving bot
	Nickname string // nickname the message opened with, if any
	Prefix   string // command prefix consumed; meaningful only when Prefixed
	Prefixed bool
	Message  string // text left after stripping
}

// Addressed reports whether the message was directed at the bot.
func (p Parsed) Addressed() bool { return p.AtMe || p.Nickname != "" || p.Prefixed }

// Matcher strips at-mentions, nicknames and command prefixes. Nickname and
// prefix patterns are fixed at construction; the at-mention pattern is
// rebuilt whenever the set of known bot identities changes.
type Matcher struct {
	nickname *regexp.Regexp
	prefix   *regexp.Regexp

	mu      sync.RWMutex
	at      *regexp.Regexp
	selfIDs []string
}

// NewMatcher builds the fixed patterns. Empty nicknames are ignored; an
// empty prefix is allowed and makes the prefix optional.
func NewMatcher(nicknames, prefixes []string) *Matcher {
	nicks := slices.DeleteFunc(slices.Clone(nicknames), func(s string) bool { return s == "" })
	m := &Matcher{}
	if alt := alternation(nicks); alt != "" {
		m.nickname = regexp.MustCompile(`^@?(` + alt + `)(?:[,，]\s*|\s+)`)
	}
	if len(prefixes) > 0 {
		m.prefix = regexp.MustCompile(`^(` + alternation(prefixes) + `)`)
	}
	return m
}

// SetSelfIDs replaces the known bot identities and rebuilds the at-mention
// pattern. It accepts OneBot CQ codes, Discord <@id>/<@!id> and plain @id.
func (m *Matcher) SetSelfIDs(ids []string) {
	ids = slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == "" })
	var at *regexp.Regexp
	if alt := alternation(ids); alt != "" {
		at = regexp.MustCompile(`^(?:\[CQ:at,qq=(?:` + alt + `)\]|<@!?(?:` + alt + `)>|@(?:` + alt + `)(?:\s|$))\s*`)
	}
	m.mu.Lock()
	m.at = at
	m.selfIDs = ids
	m.mu.Unlock()
}

// SelfIDs returns the identities the at-mention pattern currently covers.
func (m *Matcher) SelfIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.selfIDs)
}

// Strip consumes, in order, an at-mention (groups only), a nickname and a
// command prefix from the start of text. Each step is optional.
func (m *Matcher) Strip(text string, group bool) Parsed {
	p := Parsed{Message: text}

	if group {
		m.mu.RLock()
		at := m.at
		m.mu.RUnlock()
		if loc := find(at, p.Message); loc != nil {
			p.AtMe = true
			p.Message = p.Message[loc[1]:]
		}
	}
	if loc := find(m.nickname, p.Message); loc != nil {
		p.Nickname = p.Message[loc[2]:loc[3]]
		p.Message = p.Message[loc[1]:]
	}
	if loc := find(m.prefix, p.Message); loc != nil {
		p.Prefixed = true
		p.Prefix = p.Message[loc[2]:loc[3]]
		p.Message = p.Message[loc[1]:]
	}
	return p
}

// find treats a nil pattern as one that never matches.
func find(re *regexp.Regexp, s string) []int {
	if re == nil {
		return nil
	}
	return re.FindStringSubmatchIndex(s)
}

// alternation quotes items and orders them longest first so "!!" wins
// over "!".
func alternation(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, regexp.QuoteMeta(it))
	}
	slices.SortStableFunc(quoted, func(a, b string) int { return len(b) - len(a) })
	return strings.Join(quoted, "|")
}
