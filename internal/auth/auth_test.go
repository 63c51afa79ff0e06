package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/platform/platformtest"
	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/store"
)

const (
	master = "master"
	guild  = "G"
)

func cmd(t *testing.T, perm plugin.Permission, allowDM bool) plugin.Plugin {
	t.Helper()
	p, err := plugin.New(plugin.Definition{
		Kind: plugin.KindCommand, Name: "food", Description: "d",
		Permission: perm, AllowDM: allowDM,
		Command: func(context.Context, *plugin.Invocation) error { return nil },
	})
	require.NoError(t, err)
	return p
}

func inGuild(author string) *platform.Message {
	return &platform.Message{GuildID: guild, ChannelID: "C", Author: platform.User{ID: author}}
}

func direct(author string) *platform.Message {
	return &platform.Message{ChannelID: "DM", Author: platform.User{ID: author}}
}

func setup(t *testing.T, withStore bool) (*Checker, *platformtest.Client, store.Store) {
	client := platformtest.New(platform.User{ID: "bot"})
	client.SetAdmin(guild, "admin")
	client.SetMember(guild, "member", "cooks")
	client.SetMember(guild, "stranger", "nobody")
	if !withStore {
		return New(master, client, nil), client, nil
	}
	st, err := store.OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(master, client, st), client, st
}

func TestMasterBypassesDirectMessageGate(t *testing.T) {
	c, _, _ := setup(t, true)
	ok, err := c.Authorize(context.Background(), direct(master), cmd(t, plugin.PermMaster, false))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t, true)
	_, err := c.Grant(ctx, guild, "cooks", "food")
	require.NoError(t, err)

	cases := []struct {
		name string
		msg  *platform.Message
		p    plugin.Plugin
		want bool
	}{
		{"master in guild", inGuild(master), cmd(t, plugin.PermMaster, false), true},
		{"dm not allowed", direct("member"), cmd(t, plugin.PermEveryone, false), false},
		{"dm allowed everyone", direct("member"), cmd(t, plugin.PermEveryone, true), true},
		{"dm allowed role plugin", direct("member"), cmd(t, plugin.PermRole, true), false},
		{"everyone", inGuild("stranger"), cmd(t, plugin.PermEveryone, false), true},
		{"master only", inGuild("admin"), cmd(t, plugin.PermMaster, false), false},
		{"admin capability on admin plugin", inGuild("admin"), cmd(t, plugin.PermAdmin, false), true},
		{"admin capability on role plugin", inGuild("admin"), cmd(t, plugin.PermRole, false), true},
		{"admin plugin for member", inGuild("member"), cmd(t, plugin.PermAdmin, false), false},
		{"role grant held", inGuild("member"), cmd(t, plugin.PermRole, false), true},
		{"role grant missing", inGuild("stranger"), cmd(t, plugin.PermRole, false), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := c.Authorize(ctx, tc.msg, tc.p)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestWithoutStoreRolePluginsAreOpen(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t, false)

	ok, err := c.Authorize(ctx, inGuild("stranger"), cmd(t, plugin.PermRole, false))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Authorize(ctx, inGuild("stranger"), cmd(t, plugin.PermAdmin, false))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Grant(ctx, guild, "cooks", "food")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = c.Grants(ctx, guild)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	c, _, _ := setup(t, true)

	n, err := c.Grant(ctx, guild, "cooks", "food", "uptime")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = c.Grant(ctx, guild, "cooks", "food")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.Revoke(ctx, guild, "cooks", "food", "help")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	grants, err := c.Grants(ctx, guild)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "uptime", grants[0].Command)
}
