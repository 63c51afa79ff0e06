// Package discord connects the bot to Discord through discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/pkg/retrylimit"
)

// api is the subset of *discordgo.Session the client calls.
type api interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	UpdateGameStatus(idle int, name string) error
}

// invitePermissions are requested by the invite link.
const invitePermissions = discordgo.PermissionSendMessages | discordgo.PermissionMentionEveryone

// Client implements platform.Client. Reads go to the session state first and
// fall back to REST.
type Client struct {
	api    api
	state  *discordgo.State
	lim    *retrylimit.Limiter
	policy retrylimit.Policy
	log    *zap.Logger
}

// NewClient wraps a session. The session does not need to be open yet.
func NewClient(s *discordgo.Session, log *zap.Logger) *Client {
	return newClient(s, s.State, log)
}

func newClient(a api, state *discordgo.State, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	policy := retrylimit.DefaultPolicy()
	policy.Log = log.Named("send")
	return &Client{
		api:    a,
		state:  state,
		lim:    retrylimit.NewLimiter(5, 1, 20),
		policy: policy,
		log:    log,
	}
}

func (c *Client) Self() platform.User {
	c.state.RLock()
	defer c.state.RUnlock()
	if c.state.User == nil {
		return platform.User{}
	}
	return toUser(c.state.User)
}

// Send posts content, retrying throttled and failed requests. Unknown channels
// fail at once with platform.ErrChannelNotFound.
func (c *Client) Send(ctx context.Context, channelID, content string) error {
	return c.do(ctx, func(ctx context.Context) error {
		_, err := c.api.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		return err
	})
}

func (c *Client) Reply(ctx context.Context, m *platform.Message, content string) error {
	ref := &discordgo.MessageReference{MessageID: m.ID, ChannelID: m.ChannelID, GuildID: m.GuildID}
	return c.do(ctx, func(ctx context.Context) error {
		_, err := c.api.ChannelMessageSendReply(m.ChannelID, content, ref, discordgo.WithContext(ctx))
		return err
	})
}

func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retrylimit.Do(ctx, c.lim, c.policy, func(ctx context.Context) error {
		return classify(fn(ctx))
	})
}

// CanSend reports whether the bot may post in a guild channel.
func (c *Client) CanSend(ctx context.Context, channelID string) (bool, error) {
	perms, err := c.api.UserChannelPermissions(c.Self().ID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("channel permissions: %w", err)
	}
	return perms&discordgo.PermissionSendMessages != 0, nil
}

// IsAdministrator reports whether the member owns the guild or holds a role
// with the administrator permission.
func (c *Client) IsAdministrator(ctx context.Context, guildID, userID string) (bool, error) {
	guild, err := c.guild(ctx, guildID)
	if err != nil {
		return false, err
	}
	if guild.OwnerID == userID {
		return true, nil
	}
	member, err := c.member(ctx, guildID, userID)
	if err != nil {
		return false, err
	}

	roles := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, r := range guild.Roles {
		roles[r.ID] = r
	}
	for _, id := range member.Roles {
		if r, ok := roles[id]; ok && r.Permissions&discordgo.PermissionAdministrator != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := c.member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), member.Roles...), nil
}

// Guilds lists the guilds the session knows about. Guilds still unavailable
// after connecting are included with their id only.
func (c *Client) Guilds(context.Context) ([]platform.Guild, error) {
	c.state.RLock()
	defer c.state.RUnlock()
	out := make([]platform.Guild, 0, len(c.state.Guilds))
	for _, g := range c.state.Guilds {
		out = append(out, toGuild(g))
	}
	return out, nil
}

func (c *Client) Roles(ctx context.Context, guildID string) ([]platform.Role, error) {
	guild, err := c.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	roles := guild.Roles
	if len(roles) == 0 {
		if roles, err = c.api.GuildRoles(guildID, discordgo.WithContext(ctx)); err != nil {
			return nil, fmt.Errorf("guild roles: %w", err)
		}
	}
	out := make([]platform.Role, len(roles))
	for i, r := range roles {
		out[i] = platform.Role{ID: r.ID, Name: r.Name}
	}
	return out, nil
}

// SetPresence shows status as the bot's game.
func (c *Client) SetPresence(_ context.Context, status string) error {
	return c.api.UpdateGameStatus(0, status)
}

func (c *Client) InviteURL() string {
	return fmt.Sprintf("https://discord.com/oauth2/authorize?client_id=%s&scope=bot&permissions=%d",
		c.Self().ID, invitePermissions)
}

func (c *Client) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g, err := c.state.Guild(guildID); err == nil {
		return g, nil
	}
	g, err := c.api.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("guild %s: %w", guildID, err)
	}
	return g, nil
}

func (c *Client) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := c.state.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := c.api.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("member %s of %s: %w", userID, guildID, err)
	}
	return m, nil
}

// restStatus exposes the HTTP status of a REST error to the retry policy.
type restStatus struct {
	*discordgo.RESTError
}

func (e restStatus) StatusCode() int { return e.Response.StatusCode }
func (e restStatus) Unwrap() error   { return e.RESTError }

// classify maps REST failures: unknown channels and other client errors are
// permanent, throttling and server errors are retried.
func classify(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return err
	}
	code := rest.Response.StatusCode
	switch {
	case code == http.StatusNotFound,
		rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownChannel:
		return retrylimit.Permanent(fmt.Errorf("%w: %w", platform.ErrChannelNotFound, err))
	case code == http.StatusTooManyRequests, code >= 500:
		return restStatus{rest}
	case code >= 400:
		return retrylimit.Permanent(err)
	}
	return err
}

func toUser(u *discordgo.User) platform.User {
	return platform.User{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

func toGuild(g *discordgo.Guild) platform.Guild {
	return platform.Guild{ID: g.ID, Name: g.Name, MemberCount: g.MemberCount, SystemChannelID: g.SystemChannelID}
}

func toMessage(m *discordgo.Message) *platform.Message {
	msg := &platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.Author = toUser(m.Author)
	}
	return msg
}

var _ platform.Client = (*Client)(nil)
