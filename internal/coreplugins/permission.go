package coreplugins

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/keshon/salabot/internal/format"
	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/plugin"
)

var allow = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "allow",
	Category:    categorySecurity,
	Description: "Adds role a permission to run some command/category of commands.",
	Arguments:   []string{"role", "command/category"},
	UseStore:    true,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		return changeGrants(ctx, inv, true)
	},
}

var deny = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "deny",
	Category:    categorySecurity,
	Description: "Removes role a permission to run some command/category of commands.",
	Arguments:   []string{"role", "command/category"},
	UseStore:    true,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		return changeGrants(ctx, inv, false)
	},
}

// changeGrants resolves the target to a single command or to every member of a
// category at the time of the call.
func changeGrants(ctx context.Context, inv *plugin.Invocation, grant bool) error {
	guildID := inv.Message.GuildID
	if guildID == "" {
		return inv.Reply(ctx, "Permissions can only be changed inside a guild.")
	}
	roleName, target := inv.Arg(0), inv.Arg(1)

	role, err := findRole(ctx, inv.Env.Client(), guildID, roleName)
	if err != nil {
		return err
	}
	if role == nil {
		return inv.Reply(ctx, "Role "+format.Bold(roleName)+" not found.")
	}

	catalog := inv.Env.Catalog()
	var (
		kind  string
		names []string
	)
	if p, ok := catalog.Lookup(target); ok && p.Kind() != plugin.KindFilter {
		kind, names = "command", []string{target}
	} else if catalog.HasCategory(target) {
		kind, names = "category", catalog.Members(target)
	} else {
		return inv.Send(ctx, "Category/command "+format.Bold(target)+" not found.")
	}

	perms := inv.Env.Permissions()
	if grant {
		if _, err := perms.Grant(ctx, guildID, role.ID, names...); err != nil {
			return err
		}
		return inv.Send(ctx, fmt.Sprintf("Permissions for %s %s added for role %s", kind, format.Bold(target), format.Bold(roleName)))
	}
	if _, err := perms.Revoke(ctx, guildID, role.ID, names...); err != nil {
		return err
	}
	return inv.Send(ctx, fmt.Sprintf("Permissions for %s %s removed from role %s", kind, format.Bold(target), format.Bold(roleName)))
}

func findRole(ctx context.Context, client platform.Client, guildID, name string) (*platform.Role, error) {
	roles, err := client.Roles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for i := range roles {
		if roles[i].Name == name {
			return &roles[i], nil
		}
	}
	return nil, nil
}

var permissions = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "permissions",
	Category:    categorySecurity,
	Description: "Lists all existing permissions for a guild.",
	UseStore:    true,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		guildID := inv.Message.GuildID
		if guildID == "" {
			return inv.Reply(ctx, "Permissions can only be listed inside a guild.")
		}
		grants, err := inv.Env.Permissions().Grants(ctx, guildID)
		if err != nil {
			return err
		}
		if len(grants) == 0 {
			return inv.Send(ctx, "No permission flags set.")
		}

		roles, err := inv.Env.Client().Roles(ctx, guildID)
		if err != nil {
			return fmt.Errorf("list roles: %w", err)
		}
		roleNames := make(map[string]string, len(roles))
		for _, r := range roles {
			roleNames[r.ID] = r.Name
		}

		byRole := make(map[string][]string)
		var order []string
		for _, g := range grants {
			name, ok := roleNames[g.RoleID]
			if !ok {
				name = g.RoleID
			}
			if _, seen := byRole[name]; !seen {
				order = append(order, name)
			}
			byRole[name] = append(byRole[name], g.Command)
		}
		slices.Sort(order)

		var b strings.Builder
		b.WriteString("Currently set permissions:\n")
		for _, name := range order {
			b.WriteString("Role " + format.Bold(name) + "\n")
			b.WriteString(format.CodeBlock(strings.Join(byRole[name], "\n")) + "\n")
		}
		for _, chunk := range format.Chunk(strings.TrimSuffix(b.String(), "\n"), format.MaxMessageLength) {
			if err := inv.Send(ctx, chunk); err != nil {
				return err
			}
		}
		return nil
	},
}
