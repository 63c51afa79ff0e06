package coreplugins

import (
	"context"
	"strings"

	"github.com/keshon/salabot/internal/format"
	"github.com/keshon/salabot/internal/plugin"
)

var commands = plugin.Definition{
	Kind:              plugin.KindCommand,
	Name:              "commands",
	Category:          categoryCore,
	Description:       "Shows you list of commands arranged in categories.",
	Aliases:           []string{"com"},
	Arguments:         []string{"category of commands"},
	ArgumentsOptional: true,
	Permission:        plugin.PermEveryone,
	Command:           listCommands,
}

func listCommands(ctx context.Context, inv *plugin.Invocation) error {
	catalog := inv.Env.Catalog()
	p := inv.Env.Prefix(ctx, inv.Message.GuildID)

	if name := inv.Arg(0); name != "" {
		if !catalog.HasCategory(name) {
			return inv.Reply(ctx, "Invalid category!")
		}
		runnable, err := runnableIn(ctx, inv, name)
		if err != nil {
			return err
		}

		var b strings.Builder
		for _, h := range runnable {
			b.WriteString("\n" + p + h.Name)
			if len(h.Aliases) > 0 {
				aliases := make([]string, len(h.Aliases))
				for i, a := range h.Aliases {
					aliases[i] = p + a
				}
				b.WriteString(" (" + strings.Join(aliases, ", ") + ")")
			}
			b.WriteString(" - " + h.Description)
		}
		title := "Commands in category " + format.Bold(name) + "\n" + format.Bold(p+"help [command]") + " for more info."
		return inv.Send(ctx, title+format.CodeBlock(b.String()))
	}

	var b strings.Builder
	for _, category := range catalog.Categories() {
		runnable, err := runnableIn(ctx, inv, category)
		if err != nil {
			return err
		}
		if len(runnable) == 0 {
			continue
		}
		b.WriteString("\n" + p + "com " + category)
	}
	return inv.Send(ctx, "Type one of following to see commands in that category."+format.CodeBlock(b.String()))
}

// runnableIn returns the headers of the commands and tasks in category that the
// invoking user may run.
func runnableIn(ctx context.Context, inv *plugin.Invocation, category string) ([]*plugin.Header, error) {
	catalog := inv.Env.Catalog()
	var out []*plugin.Header
	for _, name := range catalog.Members(category) {
		p, ok := catalog.Resolve(name)
		if !ok {
			continue
		}
		allowed, err := inv.Env.Authorize(ctx, inv.Message, p)
		if err != nil {
			return nil, err
		}
		if allowed {
			out = append(out, p.Info())
		}
	}
	return out, nil
}

var tasks = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "tasks",
	Category:    categoryCore,
	Description: "Shows you list of all available tasks and if they are running or not.",
	Permission:  plugin.PermEveryone,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		p := inv.Env.Prefix(ctx, inv.Message.GuildID)

		var b strings.Builder
		for _, t := range inv.Env.Catalog().Tasks() {
			allowed, err := inv.Env.Authorize(ctx, inv.Message, t)
			if err != nil {
				return err
			}
			if !allowed {
				continue
			}
			b.WriteString("\n" + t.Name)
			if t.Started(inv.Message.GuildID) {
				b.WriteString(" - (started)")
			}
		}
		text := b.String()
		if text == "" {
			text = "There are no runnable task plugins."
		}
		return inv.Send(ctx, format.Bold(p+"help [task]")+" for more info."+format.CodeBlock(text))
	},
}
