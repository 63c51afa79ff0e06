// Package auth decides who may run which plugin.
package auth

import (
	"context"
	"fmt"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/store"
)

// Members is the part of the platform client the checker needs.
type Members interface {
	IsAdministrator(ctx context.Context, guildID, userID string) (bool, error)
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
}

// Checker evaluates the permission policy. Rules are applied in order and the
// first one that decides wins:
//
//  1. the master may run anything, anywhere
//  2. direct messages are refused unless the plugin allows them
//  3. "everyone" plugins are allowed
//  4. "master" plugins are refused for everybody else
//  5. guild administrators may run anything
//  6. "admin" plugins are refused for everybody else
//  7. without persistence there are no grants to consult, so access is allowed
//  8. access is allowed when one of the member's roles holds a grant
//
// Rules 5 to 8 need guild membership; direct messages that reach them are refused.
type Checker struct {
	master  string
	members Members
	grants  store.GrantStore
}

// New returns a checker. grants may be nil when the bot runs without persistence.
func New(master string, members Members, grants store.GrantStore) *Checker {
	return &Checker{master: master, members: members, grants: grants}
}

// IsMaster reports whether userID is the bot master.
func (c *Checker) IsMaster(userID string) bool { return userID == c.master }

// Authorize reports whether the author of msg may run p. Errors come from the
// platform or the grant store and leave the decision unmade.
func (c *Checker) Authorize(ctx context.Context, msg *platform.Message, p plugin.Plugin) (bool, error) {
	h := p.Info()
	author := msg.Author.ID
	direct := msg.IsDirect()

	switch {
	case c.IsMaster(author):
		return true, nil
	case direct && !h.AllowDM:
		return false, nil
	case h.Permission == plugin.PermEveryone:
		return true, nil
	case h.Permission == plugin.PermMaster:
		return false, nil
	case direct:
		return false, nil
	}

	admin, err := c.members.IsAdministrator(ctx, msg.GuildID, author)
	if err != nil {
		return false, fmt.Errorf("authorize %s: admin check: %w", h.Name, err)
	}
	if admin {
		return true, nil
	}
	if h.Permission == plugin.PermAdmin {
		return false, nil
	}
	if c.grants == nil {
		return true, nil
	}

	grants, err := c.grants.CommandGrants(ctx, msg.GuildID, h.Name)
	if err != nil {
		return false, fmt.Errorf("authorize %s: grants: %w", h.Name, err)
	}
	if len(grants) == 0 {
		return false, nil
	}
	roles, err := c.members.MemberRoles(ctx, msg.GuildID, author)
	if err != nil {
		return false, fmt.Errorf("authorize %s: member roles: %w", h.Name, err)
	}
	held := make(map[string]bool, len(roles))
	for _, r := range roles {
		held[r] = true
	}
	for _, g := range grants {
		if held[g.RoleID] {
			return true, nil
		}
	}
	return false, nil
}

// Grant lets roleID run each of commands in guildID. It returns the number of
// grants created.
func (c *Checker) Grant(ctx context.Context, guildID, roleID string, commands ...string) (int, error) {
	if c.grants == nil {
		return 0, store.ErrUnavailable
	}
	n := 0
	for _, cmd := range commands {
		created, err := c.grants.AddRoleGrant(ctx, guildID, cmd, roleID)
		if err != nil {
			return n, fmt.Errorf("grant %s to %s: %w", cmd, roleID, err)
		}
		if created {
			n++
		}
	}
	return n, nil
}

// Revoke removes the grants of roleID for commands and returns how many existed.
func (c *Checker) Revoke(ctx context.Context, guildID, roleID string, commands ...string) (int, error) {
	if c.grants == nil {
		return 0, store.ErrUnavailable
	}
	n := 0
	for _, cmd := range commands {
		removed, err := c.grants.RemoveRoleGrant(ctx, guildID, cmd, roleID)
		if err != nil {
			return n, fmt.Errorf("revoke %s from %s: %w", cmd, roleID, err)
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// Grants lists every grant of a guild.
func (c *Checker) Grants(ctx context.Context, guildID string) ([]store.RoleGrant, error) {
	if c.grants == nil {
		return nil, store.ErrUnavailable
	}
	return c.grants.RoleGrants(ctx, guildID)
}
