package plugin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/httputil"
	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/store"
)

// Env is what a running plugin can reach.
type Env interface {
	Client() platform.Client
	Logger() *zap.Logger
	// Store returns nil when the bot runs without persistence.
	Store() store.Store
	Catalog() Catalog
	HTTP() *httputil.Client

	Prefix(ctx context.Context, guildID string) string
	SetPrefix(ctx context.Context, guildID, prefix string) error
	Authorize(ctx context.Context, msg *platform.Message, p Plugin) (bool, error)
	Permissions() Permissions

	Master() string
	StartedAt() time.Time
}

// Catalog is the read-only view of registered plugins.
type Catalog interface {
	// Resolve finds a command or task by name, then by alias.
	Resolve(token string) (Plugin, bool)
	// Lookup finds any plugin by exact name.
	Lookup(name string) (Plugin, bool)
	Categories() []string
	Members(category string) []string
	HasCategory(name string) bool
	Tasks() []*Task
}

// Permissions manages role grants. Methods return store.ErrUnavailable without
// persistence.
type Permissions interface {
	Grant(ctx context.Context, guildID, roleID string, commands ...string) (int, error)
	Revoke(ctx context.Context, guildID, roleID string, commands ...string) (int, error)
	Grants(ctx context.Context, guildID string) ([]store.RoleGrant, error)
}

// Invocation is one run of a command or task triggered by a message.
type Invocation struct {
	Message *platform.Message
	// Name is the token the plugin was invoked with, possibly an alias.
	Name string
	Args []string
	Env  Env
}

// Arg returns the i-th bound argument or "".
func (inv *Invocation) Arg(i int) string {
	if i < 0 || i >= len(inv.Args) {
		return ""
	}
	return inv.Args[i]
}

// Reply answers the invoking message.
func (inv *Invocation) Reply(ctx context.Context, content string) error {
	return inv.Env.Client().Reply(ctx, inv.Message, content)
}

// Send posts to the invoking channel without addressing the author.
func (inv *Invocation) Send(ctx context.Context, content string) error {
	return inv.Env.Client().Send(ctx, inv.Message.ChannelID, content)
}
