package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/pkg/util"
)

// Directory is the part of the platform client the integrity pass reads.
type Directory interface {
	Guilds(ctx context.Context) ([]platform.Guild, error)
	Roles(ctx context.Context, guildID string) ([]platform.Role, error)
}

// IntegrityReport counts what EnsureIntegrity changed.
type IntegrityReport struct {
	GuildsCreated int
	GuildsDeleted int
	GrantsDeleted int
}

// EnsureIntegrity reconciles stored guilds and grants with what the platform
// reports: connected guilds get a row, rows of departed guilds are deleted, and
// grants for roles that no longer exist are removed.
func EnsureIntegrity(ctx context.Context, s Store, dir Directory, log *zap.Logger) (IntegrityReport, error) {
	var rep IntegrityReport

	connected, err := dir.Guilds(ctx)
	if err != nil {
		return rep, fmt.Errorf("integrity: list connected guilds: %w", err)
	}
	stored, err := s.Guilds(ctx)
	if err != nil {
		return rep, fmt.Errorf("integrity: list stored guilds: %w", err)
	}

	known := make(map[string]bool, len(stored))
	for _, g := range stored {
		known[g.ID] = true
	}
	live := make(map[string]bool, len(connected))
	for _, g := range connected {
		live[g.ID] = true
		if known[g.ID] {
			continue
		}
		if err := s.UpsertGuild(ctx, Guild{ID: g.ID, Name: g.Name}); err != nil {
			return rep, fmt.Errorf("integrity: create guild %s: %w", g.ID, err)
		}
		log.Info("created missing guild", zap.String("guild", g.ID), zap.String("name", g.Name))
		rep.GuildsCreated++
	}

	for _, g := range stored {
		if live[g.ID] {
			continue
		}
		if err := s.DeleteGuild(ctx, g.ID); err != nil {
			return rep, fmt.Errorf("integrity: delete guild %s: %w", g.ID, err)
		}
		log.Info("deleted ghost guild", zap.String("guild", g.ID), zap.String("name", g.Name))
		rep.GuildsDeleted++
	}

	deleted := make(chan int, len(connected))
	err = util.Parallel(ctx, connected, 4, func(ctx context.Context, g platform.Guild) error {
		n, err := pruneGrants(ctx, s, dir, g.ID, log)
		deleted <- n
		return err
	})
	close(deleted)
	for n := range deleted {
		rep.GrantsDeleted += n
	}
	return rep, err
}

func pruneGrants(ctx context.Context, s Store, dir Directory, guildID string, log *zap.Logger) (int, error) {
	grants, err := s.RoleGrants(ctx, guildID)
	if err != nil || len(grants) == 0 {
		return 0, err
	}
	roles, err := dir.Roles(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("integrity: list roles of %s: %w", guildID, err)
	}
	exists := make(map[string]bool, len(roles))
	for _, r := range roles {
		exists[r.ID] = true
	}

	n := 0
	for _, g := range grants {
		if exists[g.RoleID] {
			continue
		}
		if _, err := s.RemoveRoleGrant(ctx, guildID, g.Command, g.RoleID); err != nil {
			return n, fmt.Errorf("integrity: delete grant: %w", err)
		}
		log.Info("deleted grant for missing role",
			zap.String("guild", guildID), zap.String("command", g.Command), zap.String("role", g.RoleID))
		n++
	}
	return n, nil
}
