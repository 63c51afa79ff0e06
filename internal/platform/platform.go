// Package platform describes the chat platform the bot talks to. The core never
// imports a concrete SDK; it goes through Client.
package platform

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned by Client.Send when the channel no longer exists
// or is no longer visible to the bot.
var ErrChannelNotFound = errors.New("platform: channel not found")

// User is a platform account.
type User struct {
	ID       string
	Username string
	Bot      bool
}

// Message is an inbound chat message. GuildID is empty for direct messages.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Content   string
	Author    User
}

// IsDirect reports whether the message was sent outside of a guild.
func (m *Message) IsDirect() bool { return m.GuildID == "" }

// Guild is a server the bot is a member of.
type Guild struct {
	ID              string
	Name            string
	MemberCount     int
	SystemChannelID string
}

// Role is a guild role.
type Role struct {
	ID   string
	Name string
}

// Client is everything the bot needs from the platform.
type Client interface {
	// Self returns the bot's own account.
	Self() User
	// Send posts content to a channel. Returns ErrChannelNotFound (wrapped) when
	// the channel cannot be resolved.
	Send(ctx context.Context, channelID, content string) error
	// Reply answers a message in its channel, addressing the author.
	Reply(ctx context.Context, m *Message, content string) error
	// CanSend reports whether the bot may post in the channel.
	CanSend(ctx context.Context, channelID string) (bool, error)
	IsAdministrator(ctx context.Context, guildID, userID string) (bool, error)
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	Guilds(ctx context.Context) ([]Guild, error)
	Roles(ctx context.Context, guildID string) ([]Role, error)
	SetPresence(ctx context.Context, status string) error
	InviteURL() string
}
