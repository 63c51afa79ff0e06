package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/dispatch"
	"github.com/keshon/salabot/internal/platform"
)

// Intents the bot subscribes to. Message content and guild members are
// privileged and must be enabled for the application.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent

// Handler receives gateway events.
type Handler interface {
	Start(ctx context.Context) error
	HandleMessage(ctx context.Context, msg *platform.Message) dispatch.Outcome
	OnGuildJoin(ctx context.Context, g platform.Guild) error
	OnGuildLeave(ctx context.Context, guildID string) error
}

// NewSession creates a bot session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

type Gateway struct {
	s   *discordgo.Session
	h   Handler
	log *zap.Logger
}

func NewGateway(s *discordgo.Session, h Handler, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{s: s, h: h, log: log}
}

// Run opens the session, forwards events until ctx is done and closes it.
func (g *Gateway) Run(ctx context.Context) error {
	removers := []func(){
		g.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { g.onReady(ctx, r) }),
		g.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { g.onMessage(ctx, m) }),
		g.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) { g.onGuildCreate(ctx, e) }),
		g.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildDelete) { g.onGuildDelete(ctx, e) }),
	}
	defer func() {
		for _, remove := range removers {
			remove()
		}
	}()

	if err := g.s.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	<-ctx.Done()
	g.log.Info("Shutdown signal received, closing session")
	if err := g.s.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// onReady fires on every (re)connect; Start only does its work once.
func (g *Gateway) onReady(ctx context.Context, r *discordgo.Ready) {
	if r.User != nil {
		g.log.Info("Connected", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
	}
	if err := g.h.Start(ctx); err != nil {
		g.log.Error("Start failed", zap.Error(err))
	}
}

func (g *Gateway) onMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Message == nil {
		return
	}
	out := g.h.HandleMessage(ctx, toMessage(m.Message))
	if out != dispatch.Ignored && out != dispatch.Unknown {
		g.log.Debug("Message handled", zap.String("message", m.ID), zap.Stringer("outcome", out))
	}
}

func (g *Gateway) onGuildCreate(ctx context.Context, e *discordgo.GuildCreate) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	if err := g.h.OnGuildJoin(ctx, toGuild(e.Guild)); err != nil {
		g.log.Error("Guild join failed", zap.String("guild", e.ID), zap.Error(err))
	}
}

// onGuildDelete ignores outages; only a removal from the guild is a leave.
func (g *Gateway) onGuildDelete(ctx context.Context, e *discordgo.GuildDelete) {
	if e.Guild == nil {
		return
	}
	if e.Unavailable {
		g.log.Warn("Guild unavailable", zap.String("guild", e.ID))
		return
	}
	if err := g.h.OnGuildLeave(ctx, e.ID); err != nil {
		g.log.Error("Guild leave failed", zap.String("guild", e.ID), zap.Error(err))
	}
}
