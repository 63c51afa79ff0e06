package coreplugins_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/keshon/salabot/internal/bot"
	"github.com/keshon/salabot/internal/dispatch"
	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/platform/platformtest"
	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/internal/task/tasktest"
)

type fixture struct {
	bot    *bot.Bot
	client *platformtest.Client
}

func newFixture(t *testing.T, withStore bool, defs ...plugin.Definition) *fixture {
	t.Helper()
	ctx := context.Background()
	client := platformtest.New(platform.User{ID: "bot", Username: "salabot", Bot: true})
	client.AddGuild(platform.Guild{ID: "G", Name: "One", MemberCount: 2, SystemChannelID: "sys1"},
		platform.Role{ID: "r1", Name: "Cooks"}, platform.Role{ID: "r2", Name: "Waiters"})
	client.AddGuild(platform.Guild{ID: "G2", Name: "Two", MemberCount: 5, SystemChannelID: "sys2"})
	client.AddGuild(platform.Guild{ID: "G3", Name: "Three", MemberCount: 1})
	client.SetAdmin("G", "admin")
	client.SetMember("G", "cook", "r1")

	var st store.Store
	if withStore {
		sql, err := store.OpenSQLite(":memory:", zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = sql.Close() })
		st = sql
	}

	b, err := bot.New(ctx, bot.Config{Master: "master"}, client, st, tasktest.New(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, b.AddModule(ctx, defs...))
	require.NoError(t, b.Start(ctx))
	t.Cleanup(b.Stop)
	client.Reset()
	return &fixture{bot: b, client: client}
}

func (f *fixture) say(author, content string) (dispatch.Outcome, []string) {
	f.client.Reset()
	out := f.bot.HandleMessage(context.Background(), &platform.Message{
		ID: "m", GuildID: "G", ChannelID: "C", Content: content,
		Author: platform.User{ID: author},
	})
	return out, f.client.SentTo("C")
}

var (
	soup = plugin.Definition{
		Kind: plugin.KindCommand, Name: "soup", Category: "kitchen", Description: "Serves soup.",
		Aliases: []string{"s"},
		Command: func(ctx context.Context, inv *plugin.Invocation) error { return inv.Send(ctx, "soup") },
	}
	bread = plugin.Definition{
		Kind: plugin.KindCommand, Name: "bread", Category: "kitchen", Description: "Bakes bread.",
		Permission: plugin.PermEveryone,
		Command:    func(ctx context.Context, inv *plugin.Invocation) error { return inv.Send(ctx, "bread") },
	}
	oven = plugin.Definition{
		Kind: plugin.KindTask, Name: "oven", Category: "kitchen", Description: "Checks the oven.",
		Schedule: "@every 1m", Permission: plugin.PermEveryone,
		Task: func(context.Context, plugin.Env) (string, error) { return "hot", nil },
	}
)

func TestHelp(t *testing.T) {
	f := newFixture(t, false, soup)

	out, sent := f.say("u", ".help")
	assert.Equal(t, dispatch.Executed, out)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], ".commands (or .com)")

	_, sent = f.say("u", ".info s")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Name: `.soup`")
	assert.Contains(t, sent[0], "Aliases: `.s`")
	assert.Contains(t, sent[0], "Serves soup.")

	_, sent = f.say("u", ".help nothing")
	assert.Equal(t, []string{"Invalid command"}, sent)
}

func TestCommandsListsOnlyRunnable(t *testing.T) {
	f := newFixture(t, true, soup, bread)

	_, sent := f.say("u", ".com")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], ".com core")
	assert.Contains(t, sent[0], ".com kitchen")
	assert.NotContains(t, sent[0], ".com master")
	assert.NotContains(t, sent[0], ".com security")

	_, sent = f.say("u", ".commands kitchen")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], ".bread - Bakes bread.")
	assert.NotContains(t, sent[0], ".soup")

	_, sent = f.say("admin", ".commands kitchen")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], ".soup (.s) - Serves soup.")

	out, sent := f.say("u", ".commands bakery")
	assert.Equal(t, dispatch.Executed, out)
	assert.Equal(t, []string{"Invalid category!"}, sent)
}

func TestTasksMarksStarted(t *testing.T) {
	f := newFixture(t, false, oven)

	_, sent := f.say("u", ".tasks")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "\noven\n")

	out, _ := f.say("u", ".oven start")
	require.Equal(t, dispatch.Executed, out)

	_, sent = f.say("u", ".tasks")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "oven - (started)")
}

func TestAllowDenyCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, soup, bread)

	out, sent := f.say("admin", ".allow Cooks kitchen")
	assert.Equal(t, dispatch.Executed, out)
	assert.Equal(t, []string{"Permissions for category **kitchen** added for role **Cooks**"}, sent)

	grants, err := f.bot.Store().RoleGrants(ctx, "G")
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	out, _ = f.say("cook", ".soup")
	assert.Equal(t, dispatch.Executed, out)

	_, sent = f.say("admin", ".permissions")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Role **Cooks**")
	assert.Contains(t, sent[0], "bread\nsoup")

	_, sent = f.say("admin", ".deny Cooks soup")
	assert.Equal(t, []string{"Permissions for command **soup** removed from role **Cooks**"}, sent)
	out, _ = f.say("cook", ".soup")
	assert.Equal(t, dispatch.Denied, out)
}

func TestAllowUnknownTargets(t *testing.T) {
	f := newFixture(t, true, soup)

	_, sent := f.say("admin", ".allow Chefs soup")
	assert.Equal(t, []string{"Role **Chefs** not found."}, sent)

	_, sent = f.say("admin", ".allow Cooks stew")
	assert.Equal(t, []string{"Category/command **stew** not found."}, sent)

	_, sent = f.say("admin", ".permissions")
	assert.Equal(t, []string{"No permission flags set."}, sent)
}

func TestPrefixWithoutStore(t *testing.T) {
	f := newFixture(t, false)

	_, sent := f.say("admin", ".prefix !")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "storage")

	_, sent = f.say("admin", ".prefix ab")
	assert.Equal(t, []string{"Prefix must be exactly one character."}, sent)
}

func TestInviteAndUptime(t *testing.T) {
	f := newFixture(t, false)

	_, sent := f.say("u", ".invite")
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "invite here: https://"))

	_, sent = f.say("u", ".uptime")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "seconds")
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	f := newFixture(t, false)
	f.client.FailSend("sys1", errors.New("missing access"))

	out, sent := f.say("master", `.bmsg "Closing at nine"`)
	assert.Equal(t, dispatch.Executed, out)
	assert.Equal(t, []string{"Broadcasting message: **Closing at nine**"}, sent)
	assert.Equal(t, []string{"Closing at nine"}, f.client.SentTo("sys2"))

	out, _ = f.say("admin", ".bmsg hi")
	assert.Equal(t, dispatch.Denied, out)
}
