package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/keshon/salabot/internal/platform"
)

type sent struct {
	channelID, content string
	ref                *discordgo.MessageReference
}

type fakeAPI struct {
	sent     []sent
	sendErrs []error // consumed one per send call
	perms    int64
	guild    *discordgo.Guild
	member   *discordgo.Member
	roles    []*discordgo.Role
	status   string
}

func (f *fakeAPI) nextErr() error {
	if len(f.sendErrs) == 0 {
		return nil
	}
	err := f.sendErrs[0]
	f.sendErrs = f.sendErrs[1:]
	return err
}

func (f *fakeAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sent{channelID: channelID, content: content})
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeAPI) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sent{channelID: channelID, content: content, ref: ref})
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeAPI) UserChannelPermissions(string, string, ...discordgo.RequestOption) (int64, error) {
	return f.perms, nil
}

func (f *fakeAPI) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if f.guild == nil || f.guild.ID != guildID {
		return nil, restError(http.StatusNotFound, 0)
	}
	return f.guild, nil
}

func (f *fakeAPI) GuildMember(string, string, ...discordgo.RequestOption) (*discordgo.Member, error) {
	if f.member == nil {
		return nil, restError(http.StatusNotFound, 0)
	}
	return f.member, nil
}

func (f *fakeAPI) GuildRoles(string, ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return f.roles, nil
}

func (f *fakeAPI) UpdateGameStatus(_ int, name string) error {
	f.status = name
	return nil
}

func restError(status, code int) *discordgo.RESTError {
	e := &discordgo.RESTError{Response: &http.Response{StatusCode: status, Status: http.StatusText(status)}}
	if code != 0 {
		e.Message = &discordgo.APIErrorMessage{Code: code}
	}
	return e
}

const (
	guildID = "g1"
	ownerID = "owner"
	adminID = "admin"
	userID  = "user"
	botID   = "bot"
)

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	st := discordgo.NewState()
	st.User = &discordgo.User{ID: botID, Username: "salabot", Bot: true}
	require.NoError(t, st.GuildAdd(&discordgo.Guild{
		ID:              guildID,
		Name:            "Pizzeria",
		OwnerID:         ownerID,
		MemberCount:     3,
		SystemChannelID: "sys",
		Roles: []*discordgo.Role{
			{ID: "r-admin", Name: "Boss", Permissions: discordgo.PermissionAdministrator},
			{ID: "r-cook", Name: "Cook", Permissions: discordgo.PermissionSendMessages},
		},
	}))
	require.NoError(t, st.MemberAdd(&discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: adminID}, Roles: []string{"r-admin"}}))
	require.NoError(t, st.MemberAdd(&discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: userID}, Roles: []string{"r-cook"}}))

	c := newClient(api, st, zaptest.NewLogger(t))
	c.policy.InitialDelay = time.Millisecond
	c.policy.ThrottleDelay = time.Millisecond
	c.policy.Jitter = false
	return c
}

func TestSelfAndInviteURL(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	assert.Equal(t, platform.User{ID: botID, Username: "salabot", Bot: true}, c.Self())
	assert.Contains(t, c.InviteURL(), "client_id=bot")
	assert.Contains(t, c.InviteURL(), "permissions=133120")
}

func TestSelfBeforeReady(t *testing.T) {
	c := newClient(&fakeAPI{}, discordgo.NewState(), nil)
	assert.Equal(t, platform.User{}, c.Self())
}

func TestSendRetriesServerErrors(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{restError(http.StatusBadGateway, 0), restError(http.StatusTooManyRequests, 0)}}
	c := newTestClient(t, api)

	require.NoError(t, c.Send(context.Background(), "c1", "hello"))
	assert.Len(t, api.sent, 3)
}

func TestSendUnknownChannelIsPermanent(t *testing.T) {
	for name, err := range map[string]error{
		"not found":       restError(http.StatusNotFound, 0),
		"unknown channel": restError(http.StatusBadRequest, discordgo.ErrCodeUnknownChannel),
	} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{sendErrs: []error{err}}
			c := newTestClient(t, api)

			got := c.Send(context.Background(), "gone", "hello")
			require.Error(t, got)
			assert.ErrorIs(t, got, platform.ErrChannelNotFound)
			assert.Len(t, api.sent, 1)
		})
	}
}

func TestSendForbiddenIsNotRetried(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{restError(http.StatusForbidden, 0)}}
	c := newTestClient(t, api)

	err := c.Send(context.Background(), "c1", "hello")
	require.Error(t, err)
	assert.False(t, errors.Is(err, platform.ErrChannelNotFound))
	assert.Len(t, api.sent, 1)
}

func TestReplyReferencesMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	m := &platform.Message{ID: "m1", ChannelID: "c1", GuildID: guildID}
	require.NoError(t, c.Reply(context.Background(), m, "hi"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, &discordgo.MessageReference{MessageID: "m1", ChannelID: "c1", GuildID: guildID}, api.sent[0].ref)
}

func TestCanSend(t *testing.T) {
	api := &fakeAPI{perms: discordgo.PermissionSendMessages | discordgo.PermissionViewChannel}
	c := newTestClient(t, api)
	ok, err := c.CanSend(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	api.perms = discordgo.PermissionViewChannel
	ok, err = c.CanSend(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAdministrator(t *testing.T) {
	c := newTestClient(t, &fakeAPI{member: &discordgo.Member{User: &discordgo.User{ID: "stranger"}}})
	ctx := context.Background()

	for id, want := range map[string]bool{ownerID: true, adminID: true, userID: false, "stranger": false} {
		got, err := c.IsAdministrator(ctx, guildID, id)
		require.NoError(t, err, id)
		assert.Equal(t, want, got, id)
	}
}

func TestIsAdministratorUnknownGuild(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	_, err := c.IsAdministrator(context.Background(), "elsewhere", userID)
	assert.Error(t, err)
}

func TestMemberRoles(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	roles, err := c.MemberRoles(context.Background(), guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-cook"}, roles)
}

func TestGuildsIncludeUnavailable(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	require.NoError(t, c.state.GuildAdd(&discordgo.Guild{ID: "g2", Unavailable: true}))

	guilds, err := c.Guilds(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []platform.Guild{
		{ID: guildID, Name: "Pizzeria", MemberCount: 3, SystemChannelID: "sys"},
		{ID: "g2"},
	}, guilds)
}

func TestRoles(t *testing.T) {
	api := &fakeAPI{roles: []*discordgo.Role{{ID: "r9", Name: "Fetched"}}}
	c := newTestClient(t, api)
	ctx := context.Background()

	roles, err := c.Roles(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, []platform.Role{{ID: "r-admin", Name: "Boss"}, {ID: "r-cook", Name: "Cook"}}, roles)

	require.NoError(t, c.state.GuildAdd(&discordgo.Guild{ID: "g2", Unavailable: true}))
	roles, err = c.Roles(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, []platform.Role{{ID: "r9", Name: "Fetched"}}, roles)
}

func TestSetPresence(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	require.NoError(t, c.SetPresence(context.Background(), "Type .help"))
	assert.Equal(t, "Type .help", api.status)
}

func TestToMessage(t *testing.T) {
	m := toMessage(&discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   ".help",
		Author:    &discordgo.User{ID: userID, Username: "luigi"},
	})
	assert.True(t, m.IsDirect())
	assert.Equal(t, platform.User{ID: userID, Username: "luigi"}, m.Author)
	assert.Equal(t, ".help", m.Content)
}
