package coreplugins

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/format"
	"github.com/keshon/salabot/internal/plugin"
)

var guilds = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "guilds",
	Category:    categoryMaster,
	Description: "Lists all the guilds the bot is connected to.",
	AllowDM:     true,
	Permission:  plugin.PermMaster,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		list, err := inv.Env.Client().Guilds(ctx)
		if err != nil {
			return fmt.Errorf("list guilds: %w", err)
		}
		var b strings.Builder
		for _, g := range list {
			fmt.Fprintf(&b, "%s - members: %d\n", g.Name, g.MemberCount)
		}
		return inv.Reply(ctx, "I am currently in following guilds."+format.CodeBlock(b.String()))
	},
}

var broadcast = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "broadcastmsg",
	Category:    categoryMaster,
	Description: "Broadcast a message to system channel of all the guilds bot has joined.",
	Aliases:     []string{"bmsg"},
	Arguments:   []string{"msg to broadcast"},
	AllowDM:     true,
	Permission:  plugin.PermMaster,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		msg := inv.Arg(0)
		list, err := inv.Env.Client().Guilds(ctx)
		if err != nil {
			return fmt.Errorf("list guilds: %w", err)
		}

		log := inv.Env.Logger()
		for _, g := range list {
			if g.SystemChannelID == "" {
				log.Debug("Guild has no system channel", zap.String("guild", g.ID))
				continue
			}
			if err := inv.Env.Client().Send(ctx, g.SystemChannelID, msg); err != nil {
				log.Warn("Broadcast failed", zap.String("guild", g.ID), zap.Error(err))
			}
		}
		return inv.Reply(ctx, "Broadcasting message: "+format.Bold(msg))
	},
}
