// Package store persists guild settings, role grants and task subscriptions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a looked up record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable is returned by features that need persistence when the bot
	// runs without one.
	ErrUnavailable = errors.New("store: persistence is not configured")
)

// Guild is a guild the bot is or was a member of.
type Guild struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Prefix    string    `gorm:"size:8" json:"prefix,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleGrant lets members holding RoleID run Command in GuildID.
type RoleGrant struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	GuildID   string    `gorm:"size:32;not null;uniqueIndex:idx_role_grant" json:"guild_id"`
	Command   string    `gorm:"size:64;not null;uniqueIndex:idx_role_grant" json:"command"`
	RoleID    string    `gorm:"size:32;not null;uniqueIndex:idx_role_grant" json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription routes the output of task Name to ChannelID for GuildID. Args is
// the task's opaque argument list encoded as a JSON array, empty when none.
type Subscription struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Name      string    `gorm:"size:64;not null;uniqueIndex:idx_subscription" json:"name"`
	GuildID   string    `gorm:"size:32;not null;uniqueIndex:idx_subscription" json:"guild_id"`
	ChannelID string    `gorm:"size:32;not null" json:"channel_id"`
	Args      string    `json:"args,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type GuildStore interface {
	FindGuild(ctx context.Context, id string) (*Guild, error)
	Guilds(ctx context.Context) ([]Guild, error)
	// UpsertGuild creates the guild or refreshes its name, keeping its prefix.
	UpsertGuild(ctx context.Context, g Guild) error
	// DeleteGuild removes the guild together with its grants and subscriptions.
	DeleteGuild(ctx context.Context, id string) error
	SetGuildPrefix(ctx context.Context, id, prefix string) error
}

type GrantStore interface {
	RoleGrants(ctx context.Context, guildID string) ([]RoleGrant, error)
	CommandGrants(ctx context.Context, guildID, command string) ([]RoleGrant, error)
	// AddRoleGrant is find-or-create; it reports whether a row was created.
	AddRoleGrant(ctx context.Context, guildID, command, roleID string) (bool, error)
	// RemoveRoleGrant reports whether a row was deleted.
	RemoveRoleGrant(ctx context.Context, guildID, command, roleID string) (bool, error)
}

type SubscriptionStore interface {
	Subscriptions(ctx context.Context, task string) ([]Subscription, error)
	CreateSubscription(ctx context.Context, s *Subscription) error
	DeleteSubscription(ctx context.Context, task, guildID string) error
}

// Store is the full persistence contract.
type Store interface {
	GuildStore
	GrantStore
	SubscriptionStore
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverFile   = "file"
	DriverNone   = "none"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	// Path is the sqlite database or JSON file path.
	Path string
	// DSN is used by the mysql driver.
	DSN string
}

// Open returns the configured backend. DriverNone yields a nil Store and no
// error; callers run without persistence.
func Open(cfg Config, log *zap.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		s, err = unlessErr(OpenSQLite(cfg.Path, log))
	case DriverMySQL:
		s, err = unlessErr(OpenMySQL(cfg.DSN, log))
	case DriverFile:
		s, err = unlessErr(OpenFile(cfg.Path, log))
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// unlessErr keeps a failed constructor's typed nil out of the Store interface.
func unlessErr[S Store](s S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
