package cmd

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/plugins/help"
)

func commandsCmd() *cobra.Command {
	var (
		detail    bool
		authority int
	)
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Print the registered command tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := buildRouter(cfg, nil, nil)
			if err != nil {
				return err
			}
			if authority < 0 {
				authority = math.MaxInt
			}
			fmt.Print(commandTree(r.Registry(), authority, detail))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&detail, "detail", "d", false, "render full help for every command")
	cmd.Flags().IntVarP(&authority, "authority", "a", -1, "only show commands usable at this authority (default: all)")
	return cmd
}

func commandTree(reg *command.Registry, authority int, detail bool) string {
	var b strings.Builder
	reg.Walk(func(c *command.Command, depth int) {
		if c.Hidden || c.RequiredAuthority() > authority {
			return
		}
		if detail {
			b.WriteString(help.Render(c, authority))
			b.WriteString("\n\n")
			return
		}
		fmt.Fprintf(&b, "%s%s", strings.Repeat("  ", depth), c.Name)
		if c.Description != "" {
			fmt.Fprintf(&b, "  %s", c.Description)
		}
		b.WriteByte('\n')
	})
	return b.String()
}
