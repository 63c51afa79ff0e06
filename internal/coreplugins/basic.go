package coreplugins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/format"
	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/prefix"
	"github.com/keshon/salabot/internal/store"
)

var uptime = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "uptime",
	Category:    categoryCore,
	Description: "Tells you the uptime of the bot.",
	Permission:  plugin.PermEveryone,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		return inv.Reply(ctx, "I have been suffering for "+humanDuration(time.Since(inv.Env.StartedAt())))
	},
}

// humanDuration drops leading zero units: "5 seconds", "2 mins, 5 seconds".
func humanDuration(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hrs := total % 86400 / 3600
	mins := total % 3600 / 60
	secs := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%d days, %d hrs, %d mins, %d seconds", days, hrs, mins, secs)
	case hrs > 0:
		return fmt.Sprintf("%d hrs, %d mins, %d seconds", hrs, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%d mins, %d seconds", mins, secs)
	default:
		return fmt.Sprintf("%d seconds", secs)
	}
}

var help = plugin.Definition{
	Kind:              plugin.KindCommand,
	Name:              "help",
	Category:          categoryCore,
	Description:       "Displays you some helpful information.",
	Aliases:           []string{"info"},
	Arguments:         []string{"command you would like more help with"},
	ArgumentsOptional: true,
	Permission:        plugin.PermEveryone,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		p := inv.Env.Prefix(ctx, inv.Message.GuildID)

		name := inv.Arg(0)
		if name == "" {
			text := p + "commands (or " + p + "com) - List command categories\n" +
				p + "commands [category] - List commands in given category\n" +
				p + "help [command] - Information about specific command"
			return inv.Send(ctx, format.CodeBlock(text))
		}

		target, ok := inv.Env.Catalog().Resolve(strings.TrimPrefix(name, p))
		if !ok {
			return inv.Send(ctx, "Invalid command")
		}
		return inv.Send(ctx, describe(target, p))
	},
}

// describe renders the detailed help of a command or task.
func describe(pl plugin.Plugin, p string) string {
	h := pl.Info()
	lines := []string{
		"Type: " + format.Code(string(pl.Kind())),
		"Name: " + format.Code(p+h.Name),
	}
	if len(h.Aliases) > 0 {
		aliases := make([]string, len(h.Aliases))
		for i, a := range h.Aliases {
			aliases[i] = p + a
		}
		lines = append(lines, "Aliases: "+format.Code(strings.Join(aliases, ", ")))
	}
	lines = append(lines, "Description:\n"+format.Code(h.Description), "Usage:")
	if len(h.Arguments) > 0 && h.ArgumentsOptional {
		lines = append(lines, format.Code(p+h.Name), "OR (with arguments)")
	}
	lines = append(lines, format.Code(p+h.Usage()))
	return strings.Join(lines, "\n")
}

var invite = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "invite",
	Category:    categoryCore,
	Description: "Generates invite link.",
	Permission:  plugin.PermEveryone,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		return inv.Reply(ctx, "invite here: "+inv.Env.Client().InviteURL())
	},
}

var setPrefix = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "prefix",
	Category:    categoryCore,
	Description: "Sets the prefix.",
	Arguments:   []string{"prefix"},
	Permission:  plugin.PermAdmin,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		p := inv.Arg(0)
		if err := prefix.Validate(p); err != nil {
			return inv.Reply(ctx, "Prefix must be exactly one character.")
		}
		if err := inv.Env.SetPrefix(ctx, inv.Message.GuildID, p); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return inv.Reply(ctx, "Prefixes can only be changed when storage is configured.")
			}
			if !errors.Is(err, prefix.ErrInvalid) {
				inv.Env.Logger().Error("Failed to set prefix",
					zap.String("guild", inv.Message.GuildID), zap.Error(err))
			}
			return inv.Send(ctx, "Sorry, but I could not set the prefix.")
		}
		return inv.Send(ctx, fmt.Sprintf("Prefix set to %q", p))
	},
}
