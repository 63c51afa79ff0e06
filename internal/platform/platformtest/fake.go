// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/keshon/salabot/internal/platform"
)

// Sent is a message recorded by the fake client.
type Sent struct {
	ChannelID string
	Content   string
	// ReplyTo is the id of the message being answered, empty for plain sends.
	ReplyTo string
}

// Client is a scriptable platform.Client. Zero value is not usable; use New.
type Client struct {
	mu sync.Mutex

	self     platform.User
	guilds   []platform.Guild
	roles    map[string][]platform.Role
	members  map[string][]string // guild/user -> role ids
	admins   map[string]bool     // guild/user
	channels map[string]bool     // channel -> can send
	missing  map[string]bool     // channels that no longer exist
	sendErr  map[string]error

	sent     []Sent
	presence string
}

// New returns a fake client whose own account is self.
func New(self platform.User) *Client {
	return &Client{
		self:     self,
		roles:    make(map[string][]platform.Role),
		members:  make(map[string][]string),
		admins:   make(map[string]bool),
		channels: make(map[string]bool),
		missing:  make(map[string]bool),
		sendErr:  make(map[string]error),
	}
}

func key(guildID, userID string) string { return guildID + "/" + userID }

// AddGuild registers a guild together with its roles.
func (c *Client) AddGuild(g platform.Guild, roles ...platform.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guilds = append(c.guilds, g)
	c.roles[g.ID] = roles
}

// RemoveGuild forgets a guild.
func (c *Client) RemoveGuild(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, g := range c.guilds {
		if g.ID == guildID {
			c.guilds = append(c.guilds[:i], c.guilds[i+1:]...)
			break
		}
	}
	delete(c.roles, guildID)
}

// SetMember assigns roles to a guild member.
func (c *Client) SetMember(guildID, userID string, roleIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[key(guildID, userID)] = roleIDs
}

// SetAdmin marks a member as holding the administrator capability.
func (c *Client) SetAdmin(guildID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admins[key(guildID, userID)] = true
}

// DenySend makes CanSend report false for a channel.
func (c *Client) DenySend(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = false
}

// DropChannel makes Send fail with platform.ErrChannelNotFound.
func (c *Client) DropChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[channelID] = true
}

// FailSend makes Send to channelID return err.
func (c *Client) FailSend(channelID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr[channelID] = err
}

// Sent returns a copy of everything sent or replied so far.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentTo returns contents sent to one channel.
func (c *Client) SentTo(channelID string) []string {
	var out []string
	for _, s := range c.Sent() {
		if s.ChannelID == channelID {
			out = append(out, s.Content)
		}
	}
	return out
}

// Reset clears recorded messages.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// Presence returns the last status set.
func (c *Client) Presence() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence
}

func (c *Client) Self() platform.User { return c.self }

func (c *Client) Send(_ context.Context, channelID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing[channelID] {
		return fmt.Errorf("send to %s: %w", channelID, platform.ErrChannelNotFound)
	}
	if err := c.sendErr[channelID]; err != nil {
		return err
	}
	c.sent = append(c.sent, Sent{ChannelID: channelID, Content: content})
	return nil
}

func (c *Client) Reply(_ context.Context, m *platform.Message, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{ChannelID: m.ChannelID, Content: content, ReplyTo: m.ID})
	return nil
}

func (c *Client) CanSend(_ context.Context, channelID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, known := c.channels[channelID]
	return !known || ok, nil
}

func (c *Client) IsAdministrator(_ context.Context, guildID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admins[key(guildID, userID)], nil
}

func (c *Client) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.members[key(guildID, userID)]...), nil
}

func (c *Client) Guilds(context.Context) ([]platform.Guild, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]platform.Guild(nil), c.guilds...), nil
}

func (c *Client) Roles(_ context.Context, guildID string) ([]platform.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]platform.Role(nil), c.roles[guildID]...), nil
}

func (c *Client) SetPresence(_ context.Context, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = status
	return nil
}

func (c *Client) InviteURL() string {
	return "https://discord.com/oauth2/authorize?client_id=" + c.self.ID + "&scope=bot"
}

var _ platform.Client = (*Client)(nil)
