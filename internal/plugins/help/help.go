// Package help renders command help. It adds a hidden -h/--help switch to
// every command, answers it (and calls to commands without an action) with
// the command's help text, and registers a help command that lists what the
// caller is allowed to run.
package help

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/router"
)

// Metadata extensions read by the renderer.
var (
	Usage    = command.NewMetaKey[string]("help.usage")      // argument synopsis, e.g. "<platform:user> <level>"
	Examples = command.NewMetaKey[[]string]("help.examples") // example invocations
)

// Install wires help into r and registers the help command.
func Install(r *router.Router) error {
	r.OnCommandRegistered(addHelpOption)
	r.OnBeforeCommand(router.Selector{}, func(ctx context.Context, s *router.Session, inv *command.Invocation) (bool, error) {
		if !inv.Options.Bool("help") && inv.Command.Action != nil {
			return false, nil
		}
		return true, inv.Reply(ctx, Render(inv.Command, authorityOf(inv)))
	})

	reg := r.Registry()
	cmd := &command.Command{
		Name:        "help",
		Description: "Show available commands or help for one command",
		Action: func(ctx context.Context, inv *command.Invocation) error {
			auth := authorityOf(inv)
			if len(inv.Args) == 0 {
				return inv.Reply(ctx, List(reg, auth))
			}
			target, rest := reg.Resolve(inv.Args)
			if target == nil || len(rest) > 0 || !visible(target, auth) {
				return inv.Reply(ctx, fmt.Sprintf("unknown command: %s", strings.Join(inv.Args, " ")))
			}
			return inv.Reply(ctx, Render(target, auth))
		},
	}
	Usage.Set(cmd, "[command]")
	return r.Command(cmd)
}

func addHelpOption(c *command.Command) {
	if _, ok := c.Option("help"); ok {
		return
	}
	short := "h"
	for _, o := range c.Options() {
		if o.Short == "h" {
			short = ""
		}
	}
	c.AddOption(command.Option{Name: "help", Short: short, Description: "show this help", Hidden: true, NoUsage: true})
}

// authorityOf is the caller's authority; without a user row nothing is filtered.
func authorityOf(inv *command.Invocation) int {
	if u := inv.User(); u != nil {
		return u.Authority()
	}
	return math.MaxInt
}

func visible(c *command.Command, authority int) bool {
	return !c.Hidden && c.RequiredAuthority() <= authority
}

// List renders the root commands visible at authority.
func List(reg *command.Registry, authority int) string {
	var rows [][2]string
	for _, c := range reg.Roots() {
		if visible(c, authority) {
			rows = append(rows, [2]string{c.Name, c.Description})
		}
	}
	if len(rows) == 0 {
		return "No commands available."
	}
	var b strings.Builder
	b.WriteString("Commands:\n")
	writeColumns(&b, rows)
	b.WriteString(`Use "help <command>" for details.`)
	return b.String()
}

// Render builds the help text of c. Options and subcommands above
// authority are left out.
func Render(c *command.Command, authority int) string {
	var b strings.Builder
	b.WriteString(c.FullName())
	if c.Description != "" {
		b.WriteString(" - ")
		b.WriteString(c.Description)
	}
	b.WriteByte('\n')

	synopsis := c.FullName()
	if u, ok := Usage.Get(c); ok && u != "" {
		synopsis += " " + u
	}
	fmt.Fprintf(&b, "Usage: %s\n", synopsis)

	if len(c.Aliases) > 0 {
		fmt.Fprintf(&b, "Aliases: %s\n", strings.Join(c.Aliases, ", "))
	}
	if c.MaxUsage > 0 {
		fmt.Fprintf(&b, "Limit: %d per day\n", c.MaxUsage)
	}
	if c.MinInterval > 0 {
		fmt.Fprintf(&b, "Cooldown: %s\n", c.MinInterval)
	}

	var opts [][2]string
	for _, o := range c.Options() {
		if o.Hidden || o.Authority > authority {
			continue
		}
		flag := "    --" + o.Name
		if o.Short != "" {
			flag = "-" + o.Short + ", --" + o.Name
		}
		if o.TakesValue {
			flag += " <value>"
		}
		desc := o.Description
		if o.Default != "" && o.TakesValue {
			desc += fmt.Sprintf(" (default %s)", o.Default)
		}
		opts = append(opts, [2]string{flag, desc})
	}
	if len(opts) > 0 {
		b.WriteString("Options:\n")
		writeColumns(&b, opts)
	}

	var subs [][2]string
	for _, sub := range c.Children() {
		if visible(sub, authority) {
			subs = append(subs, [2]string{sub.Name, sub.Description})
		}
	}
	if len(subs) > 0 {
		b.WriteString("Subcommands:\n")
		writeColumns(&b, subs)
	}

	if ex, ok := Examples.Get(c); ok && len(ex) > 0 {
		b.WriteString("Examples:\n")
		for _, e := range ex {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// writeColumns pads the first column to a common display width, so names
// in wide scripts line up too.
func writeColumns(b *strings.Builder, rows [][2]string) {
	width := 0
	for _, r := range rows {
		width = max(width, runewidth.StringWidth(r[0]))
	}
	for _, r := range rows {
		if r[1] == "" {
			fmt.Fprintf(b, "  %s\n", r[0])
			continue
		}
		fmt.Fprintf(b, "  %s  %s\n", runewidth.FillRight(r[0], width), r[1])
	}
}
