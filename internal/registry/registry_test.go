package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/internal/task"
)

type pluginSet struct {
	command plugin.Definition
	task    plugin.Definition
	filter  plugin.Definition
}

func definitions() pluginSet {
	return pluginSet{
		command: plugin.Definition{
			Kind: plugin.KindCommand, Category: "test", Name: "testcommand", Description: "test",
			Aliases: []string{"tc", "teco", "tescom"}, Arguments: []string{"test"},
			Permission: plugin.PermEveryone,
			Command:    func(context.Context, *plugin.Invocation) error { return nil },
		},
		task: plugin.Definition{
			Kind: plugin.KindTask, Category: "test", Name: "testtask", Description: "test",
			Aliases: []string{"tt", "teta", "testas"}, Schedule: "*/5 * * * * *",
			Task: func(context.Context, plugin.Env) (string, error) { return "", nil },
		},
		filter: plugin.Definition{
			Kind: plugin.KindFilter, Name: "testfilter",
			Filter: func(context.Context, *platform.Message, plugin.Env) (bool, error) { return true, nil },
		},
	}
}

type nopScheduler struct{}

func (nopScheduler) Arm(string, func()) (task.Handle, error) { return 1, nil }
func (nopScheduler) Disarm(task.Handle) {}

func newRegistry(t *testing.T, st store.SubscriptionStore) *Registry {
	return New(func(tk *plugin.Task) *task.Set {
		return task.NewSet(task.Options{Name: tk.Name, Schedule: tk.Schedule, Store: st, Scheduler: nopScheduler{}})
	}, zaptest.NewLogger(t))
}

func register(t *testing.T, r *Registry, def plugin.Definition) error {
	t.Helper()
	p, err := plugin.New(def)
	require.NoError(t, err)
	return r.Register(context.Background(), p)
}

func TestRegisterEachKind(t *testing.T) {
	r := newRegistry(t, nil)
	defs := definitions()
	require.NoError(t, register(t, r, defs.filter))
	require.NoError(t, register(t, r, defs.command))
	require.NoError(t, register(t, r, defs.task))

	p, ok := r.Resolve("teco")
	require.True(t, ok)
	assert.Equal(t, "testcommand", p.Info().Name)

	p, ok = r.Resolve("testtask")
	require.True(t, ok)
	assert.NotNil(t, p.(*plugin.Task).Subscriptions(), "tasks get a subscription set")

	_, ok = r.Resolve("testfilter")
	assert.False(t, ok, "filters are not invocable")
	_, ok = r.Lookup("testfilter")
	assert.True(t, ok)

	assert.Equal(t, []string{"test"}, r.Categories())
	assert.Equal(t, []string{"testcommand", "testtask"}, r.Members("test"))
	assert.Len(t, r.Filters(plugin.HookPreParse), 1)
	assert.Len(t, r.Tasks(), 1)
	assert.Equal(t, 3, r.Len())
}

func TestRegisterConflicts(t *testing.T) {
	cases := map[string]func(s *pluginSet){
		"same names": func(s *pluginSet) {
			s.command.Name, s.task.Name = "overlap", "overlap"
		},
		"same aliases": func(s *pluginSet) {
			s.command.Aliases = []string{"bla", "overlap"}
			s.task.Aliases = []string{"overlap"}
		},
		"alias overlaps name": func(s *pluginSet) {
			s.command.Name = "overlap"
			s.task.Aliases = []string{"overlap"}
		},
		"name overlaps alias": func(s *pluginSet) {
			s.command.Aliases = []string{"overlap"}
			s.task.Name = "overlap"
		},
		"category overlaps name of another plugin": func(s *pluginSet) {
			s.command.Name = "overlap"
			s.task.Category = "overlap"
		},
		"name overlaps category of another plugin": func(s *pluginSet) {
			s.command.Category = "overlap"
			s.task.Name = "overlap"
		},
		"alias overlaps category": func(s *pluginSet) {
			s.command.Category = "overlap"
			s.task.Aliases = []string{"overlap"}
		},
		"category overlaps alias": func(s *pluginSet) {
			s.command.Aliases = []string{"overlap"}
			s.task.Category = "overlap"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := newRegistry(t, nil)
			defs := definitions()
			mutate(&defs)

			require.NoError(t, register(t, r, defs.command))
			before := r.Len()
			err := register(t, r, defs.task)
			assert.ErrorIs(t, err, ErrConflict)
			var ce *ConflictError
			assert.True(t, errors.As(err, &ce))
			assert.Equal(t, before, r.Len(), "failed registration leaves no trace")
			assert.Empty(t, r.Tasks())
		})
	}
}

func TestNameEqualsOwnCategory(t *testing.T) {
	r := newRegistry(t, nil)
	defs := definitions()
	defs.command.Name, defs.command.Category = "overlap", "overlap"
	assert.ErrorIs(t, register(t, r, defs.command), ErrConflict)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Categories())
}

func TestFailedRegistrationIndexesNothing(t *testing.T) {
	r := newRegistry(t, nil)
	defs := definitions()
	require.NoError(t, register(t, r, defs.command))

	// Valid name and fresh aliases, but one alias collides.
	defs.task.Aliases = []string{"fresh", "tc"}
	defs.task.Category = "brand-new"
	require.Error(t, register(t, r, defs.task))

	_, ok := r.Resolve("fresh")
	assert.False(t, ok)
	assert.False(t, r.HasCategory("brand-new"))
}

func TestTaskSubscriptionsRehydrate(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.CreateSubscription(ctx, &store.Subscription{Name: "testtask", GuildID: "G", ChannelID: "C"}))

	r := newRegistry(t, st)
	require.NoError(t, register(t, r, definitions().task))

	tk := r.Tasks()[0]
	assert.True(t, tk.Started("G"))
	assert.False(t, tk.Started("other"))
}
