package command

import (
	"fmt"
	"strings"
	"unicode"
)

// Shortcut maps a literal phrase to a command call.
type Shortcut struct {
	Name    string
	Command *Command
	Args    []string
	Options map[string]string

	// Prefix lets the phrase start a longer message; the remainder becomes
	// extra arguments.
	Prefix bool
	// RequirePrefix only matches messages that carried a command prefix.
	RequirePrefix bool
}

// AddShortcut registers a shortcut. Shortcuts are tried in registration
// order, before command names.
func (r *Registry) AddShortcut(sc Shortcut) error {
	if sc.Name == "" || sc.Command == nil {
		return fmt.Errorf("shortcut needs a name and a command")
	}
	r.mu.Lock()
	r.shortcuts = append(r.shortcuts, &sc)
	r.mu.Unlock()
	return nil
}

func (r *Registry) matchShortcut(text string, prefixed bool) (*Shortcut, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sc := range r.shortcuts {
		if sc.RequirePrefix && !prefixed {
			continue
		}
		if text == sc.Name {
			return sc, "", true
		}
		if sc.Prefix && strings.HasPrefix(text, sc.Name) {
			return sc, strings.TrimSpace(text[len(sc.Name):]), true
		}
	}
	return nil, "", false
}

// Parse turns message text into an invocation. It returns (nil, nil) when
// the text names no command or shortcut, and an error when a command was
// found but its options did not parse; the invocation is still returned in
// that case so the caller can reply.
func (r *Registry) Parse(text string, prefixed bool) (*Invocation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var (
		cmd    *Command
		tokens []string
		preset map[string]string
	)
	if sc, rest, ok := r.matchShortcut(text, prefixed); ok {
		cmd = sc.Command
		tokens = append(append([]string{}, sc.Args...), SplitArgs(rest)...)
		preset = sc.Options
	} else {
		cmd, tokens = r.Resolve(SplitArgs(text))
		if cmd == nil {
			return nil, nil
		}
	}

	inv := &Invocation{Command: cmd}
	args, vals, err := cmd.ParseArgs(tokens)
	inv.Options = vals
	if err != nil {
		return inv, err
	}
	for k, v := range preset {
		vals.Set(k, v)
	}
	inv.Args = args
	return inv, nil
}

// SplitArgs splits on whitespace, keeping quoted runs together. Straight
// and curly double quotes and single quotes are recognized; an unterminated
// quote runs to the end of the input.
func SplitArgs(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		inToken bool
		closing rune
	)
	flush := func() {
		if inToken {
			out = append(out, cur.String())
			cur.Reset()
			inToken = false
		}
	}
	for _, r := range s {
		switch {
		case closing != 0:
			if r == closing {
				closing = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			closing, inToken = r, true
		case r == '“':
			closing, inToken = '”', true
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return out
}
