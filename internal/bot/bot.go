// Package bot ties plugins, permissions, prefixes and tasks to a platform client.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/auth"
	"github.com/keshon/salabot/internal/coreplugins"
	"github.com/keshon/salabot/internal/dispatch"
	"github.com/keshon/salabot/internal/httputil"
	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/prefix"
	"github.com/keshon/salabot/internal/registry"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/internal/task"
	"github.com/keshon/salabot/internal/version"
	"github.com/keshon/salabot/pkg/jobmgr"
)

// ErrNoMaster is returned by New when no master user is configured.
var ErrNoMaster = errors.New("bot: master user id is required")

const (
	DefaultPrefix      = "."
	DefaultHTTPTimeout = 10 * time.Second
)

type Config struct {
	// Master is the user id allowed to run everything everywhere.
	Master      string
	Prefix      string
	HTTPTimeout time.Duration
}

// Bot is the running bot. It implements plugin.Env.
type Bot struct {
	cfg       Config
	client    platform.Client
	store     store.Store
	log       *zap.Logger
	http      *httputil.Client
	startedAt time.Time

	jobs       *jobmgr.Manager
	plugins    *registry.Registry
	auth       *auth.Checker
	prefixes   *prefix.Manager
	dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	started bool
}

// New builds a bot and loads the core plugins. st may be nil to run without
// persistence; grants, prefixes and subscriptions are then not kept.
func New(ctx context.Context, cfg Config, client platform.Client, st store.Store, sched task.Scheduler, log *zap.Logger) (*Bot, error) {
	if cfg.Master == "" {
		return nil, ErrNoMaster
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if err := prefix.Validate(cfg.Prefix); err != nil {
		return nil, fmt.Errorf("default prefix: %w", err)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &Bot{
		cfg:       cfg,
		client:    client,
		store:     st,
		log:       log,
		http:      httputil.New(version.UserAgent(), cfg.HTTPTimeout),
		startedAt: time.Now(),
		jobs:      jobmgr.NewManager(log.Named("jobs")),
	}

	var (
		guilds store.GuildStore
		grants store.GrantStore
		subs   store.SubscriptionStore
	)
	if st != nil {
		guilds, grants, subs = st, st, st
	}

	b.plugins = registry.New(func(t *plugin.Task) *task.Set {
		return task.NewSet(task.Options{
			Name:      t.Name,
			Schedule:  t.Schedule,
			Body:      func(ctx context.Context) (string, error) { return t.Execute(ctx, b) },
			Store:     subs,
			Sender:    client,
			Scheduler: sched,
			Jobs:      b.jobs,
			Log:       log.Named("task"),
		})
	}, log.Named("registry"))
	b.auth = auth.New(cfg.Master, client, grants)
	b.prefixes = prefix.New(cfg.Prefix, guilds, client, log.Named("prefix"))
	b.dispatcher = dispatch.New(dispatch.Config{
		Client:     client,
		Plugins:    b.plugins,
		Auth:       b.auth,
		Prefixes:   b.prefixes,
		Env:        b,
		Log:        log.Named("dispatch"),
		Middleware: []plugin.Middleware{plugin.WithTiming(log.Named("plugin"))},
	})

	if err := b.AddModule(ctx, coreplugins.Module()...); err != nil {
		return nil, fmt.Errorf("load core plugins: %w", err)
	}
	return b, nil
}

// Add registers one plugin. Plugins that need persistence are skipped when the
// bot runs without a store.
func (b *Bot) Add(ctx context.Context, def plugin.Definition) error {
	p, err := plugin.New(def)
	if err != nil {
		return err
	}
	if p.Info().UseStore && b.store == nil {
		b.log.Warn("Plugin not loaded, storage is not configured", zap.String("plugin", def.Name))
		return nil
	}
	if err := b.plugins.Register(ctx, p); err != nil {
		return err
	}

	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if t, ok := p.(*plugin.Task); ok && started {
		if err := t.Subscriptions().Start(); err != nil {
			return fmt.Errorf("start task %s: %w", t.Name, err)
		}
	}
	return nil
}

// AddModule registers each definition. A failing plugin is logged and skipped;
// the returned error joins every failure.
func (b *Bot) AddModule(ctx context.Context, defs ...plugin.Definition) error {
	var errs []error
	for _, def := range defs {
		if err := b.Add(ctx, def); err != nil {
			b.log.Error("Could not load plugin", zap.String("plugin", def.Name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start reconciles the store with the platform, arms every task that has
// subscribers and warms the prefix cache. It is called once the platform
// session is ready.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	if b.store != nil {
		report, err := store.EnsureIntegrity(ctx, b.store, b.client, b.log.Named("integrity"))
		if err != nil {
			return fmt.Errorf("integrity: %w", err)
		}
		b.log.Info("Store reconciled",
			zap.Int("guilds_created", report.GuildsCreated),
			zap.Int("guilds_deleted", report.GuildsDeleted),
			zap.Int("grants_deleted", report.GrantsDeleted))
	}

	for _, t := range b.plugins.Tasks() {
		if err := t.Subscriptions().Start(); err != nil {
			return fmt.Errorf("start task %s: %w", t.Name, err)
		}
	}
	if err := b.prefixes.Init(ctx); err != nil {
		return err
	}

	b.started = true
	b.log.Info("Bot started",
		zap.String("user", b.client.Self().Username),
		zap.Int("plugins", b.plugins.Len()))
	return nil
}

// Stop disarms every task and waits for running deliveries.
func (b *Bot) Stop() {
	b.mu.Lock()
	b.started = false
	b.mu.Unlock()

	for _, t := range b.plugins.Tasks() {
		t.Subscriptions().Stop()
	}
	b.jobs.Shutdown()
}

// HandleMessage runs one inbound message through the dispatcher.
func (b *Bot) HandleMessage(ctx context.Context, msg *platform.Message) dispatch.Outcome {
	return b.dispatcher.Dispatch(ctx, msg)
}

// OnGuildJoin records a guild the bot was added to.
func (b *Bot) OnGuildJoin(ctx context.Context, g platform.Guild) error {
	if b.store == nil {
		return nil
	}
	b.log.Info("Joined guild", zap.String("guild", g.ID), zap.String("name", g.Name))
	if err := b.store.UpsertGuild(ctx, store.Guild{ID: g.ID, Name: g.Name}); err != nil {
		return fmt.Errorf("record guild %s: %w", g.ID, err)
	}
	return nil
}

// OnGuildLeave forgets everything kept for a guild the bot was removed from.
func (b *Bot) OnGuildLeave(ctx context.Context, guildID string) error {
	b.log.Info("Left guild", zap.String("guild", guildID))

	var errs []error
	for _, t := range b.plugins.Tasks() {
		if _, err := t.Subscriptions().Remove(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	b.prefixes.Forget(guildID)
	if b.store != nil {
		if err := b.store.DeleteGuild(ctx, guildID); err != nil {
			errs = append(errs, fmt.Errorf("delete guild %s: %w", guildID, err))
		}
	}
	return errors.Join(errs...)
}

// Jobs returns the manager running task deliveries.
// RunningJobs names the task fan-outs in flight.
func (b *Bot) RunningJobs() []string { return b.jobs.List() }

func (b *Bot) Client() platform.Client { return b.client }
func (b *Bot) Logger() *zap.Logger { return b.log }
func (b *Bot) Store() store.Store { return b.store }
func (b *Bot) Catalog() plugin.Catalog { return b.plugins }
func (b *Bot) HTTP() *httputil.Client { return b.http }
func (b *Bot) Permissions() plugin.Permissions { return b.auth }
func (b *Bot) Master() string { return b.cfg.Master }
func (b *Bot) StartedAt() time.Time { return b.startedAt }

func (b *Bot) Prefix(ctx context.Context, guildID string) string {
	return b.prefixes.Get(ctx, guildID)
}

func (b *Bot) SetPrefix(ctx context.Context, guildID, p string) error {
	return b.prefixes.Set(ctx, guildID, p)
}

func (b *Bot) Authorize(ctx context.Context, msg *platform.Message, p plugin.Plugin) (bool, error) {
	return b.auth.Authorize(ctx, msg, p)
}

var _ plugin.Env = (*Bot)(nil)
