package telegram

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/botgate/internal/command"
)

// menuName is what setMyCommands accepts as a command name.
var menuName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}

	if len(commands) == 0 {
		return nil
	}

	if len(commands) > 100 {
		commands = commands[:100]
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// MenuFromRegistry lists the visible root commands that Telegram can show
// in its command menu, in registry order.
func MenuFromRegistry(reg *command.Registry) []telego.BotCommand {
	var out []telego.BotCommand
	for _, c := range reg.Roots() {
		name := strings.ToLower(c.Name)
		if c.Hidden || !menuName.MatchString(name) {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = name
		}
		out = append(out, telego.BotCommand{Command: name, Description: desc})
	}
	return out
}
