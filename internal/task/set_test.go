package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/platform/platformtest"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/pkg/jobmgr"
)

type fakeScheduler struct {
	mu     sync.Mutex
	next   Handle
	active map[Handle]func()
	armed  int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{active: make(map[Handle]func())}
}

func (f *fakeScheduler) Arm(spec string, fire func()) (Handle, error) {
	if err := Validate(spec); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.active[f.next] = fire
	f.armed++
	return f.next, nil
}

func (f *fakeScheduler) Disarm(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, h)
}

// tick invokes every armed callback once.
func (f *fakeScheduler) tick() {
	f.mu.Lock()
	var fns []func()
	for _, fn := range f.active {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func newTestSet(t *testing.T, st store.SubscriptionStore, client *platformtest.Client, body Body) (*Set, *fakeScheduler) {
	sched := newFakeScheduler()
	return NewSet(Options{
		Name:      "pizzatask",
		Schedule:  "*/5 * * * * *",
		Body:      body,
		Store:     st,
		Sender:    client,
		Scheduler: sched,
		Log:       zaptest.NewLogger(t),
	}), sched
}

func pizza(context.Context) (string, error) { return "Pizza time!", nil }

func TestAddIsIdempotentPerGuild(t *testing.T) {
	ctx := context.Background()
	client := platformtest.New(platform.User{ID: "bot"})
	set, sched := newTestSet(t, nil, client, pizza)

	added, err := set.Add(ctx, "G", "C1", nil)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = set.Add(ctx, "G", "C2", nil)
	require.NoError(t, err)
	assert.False(t, added)

	sub, ok := set.Get("G")
	require.True(t, ok)
	assert.Equal(t, "C1", sub.ChannelID)
	assert.Equal(t, 1, sched.count(), "a single job serves all subscriptions")

	set.Fire(ctx)
	assert.Equal(t, []string{"Pizza time!"}, client.SentTo("C1"))
	assert.Empty(t, client.SentTo("C2"))
}

func TestRemovingLastSubscriptionDisarms(t *testing.T) {
	ctx := context.Background()
	client := platformtest.New(platform.User{ID: "bot"})
	set, sched := newTestSet(t, nil, client, pizza)

	_, err := set.Add(ctx, "G1", "C1", nil)
	require.NoError(t, err)
	_, err = set.Add(ctx, "G2", "C2", nil)
	require.NoError(t, err)

	removed, err := set.Remove(ctx, "G1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, set.Armed())

	removed, err = set.Remove(ctx, "G2")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, set.Armed())
	assert.Equal(t, 0, sched.count())

	removed, err = set.Remove(ctx, "G2")
	require.NoError(t, err)
	assert.False(t, removed)

	sched.tick()
	set.Fire(ctx)
	assert.Empty(t, client.Sent())
}

func TestFireUnsubscribesMissingChannels(t *testing.T) {
	ctx := context.Background()
	client := platformtest.New(platform.User{ID: "bot"})
	client.DropChannel("C1")
	client.FailSend("C3", errors.New("temporary outage"))
	set, _ := newTestSet(t, nil, client, pizza)

	for guild, channel := range map[string]string{"G1": "C1", "G2": "C2", "G3": "C3"} {
		_, err := set.Add(ctx, guild, channel, nil)
		require.NoError(t, err)
	}

	set.Fire(ctx)

	assert.False(t, set.Has("G1"), "gone channel is unsubscribed")
	assert.True(t, set.Has("G3"), "transient failures keep the subscription")
	assert.Equal(t, []string{"Pizza time!"}, client.SentTo("C2"))
}

func TestFireBodyFailureSendsNothing(t *testing.T) {
	ctx := context.Background()
	client := platformtest.New(platform.User{ID: "bot"})
	set, _ := newTestSet(t, nil, client, func(context.Context) (string, error) {
		panic("oven on fire")
	})
	_, err := set.Add(ctx, "G", "C", nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() { set.Fire(ctx) })
	assert.Empty(t, client.Sent())

	empty, _ := newTestSet(t, nil, client, func(context.Context) (string, error) { return "", nil })
	_, err = empty.Add(ctx, "G", "C", nil)
	require.NoError(t, err)
	empty.Fire(ctx)
	assert.Empty(t, client.Sent())
}

func TestPersistenceAndRehydration(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer st.Close()

	client := platformtest.New(platform.User{ID: "bot"})
	set, _ := newTestSet(t, st, client, pizza)
	_, err = set.Add(ctx, "G1", "C1", []string{"margherita", "extra cheese"})
	require.NoError(t, err)
	_, err = set.Add(ctx, "G2", "C2", nil)
	require.NoError(t, err)
	_, err = set.Remove(ctx, "G2")
	require.NoError(t, err)

	again, sched := newTestSet(t, st, client, pizza)
	require.NoError(t, again.Load(ctx))
	assert.Equal(t, 1, again.Len())
	assert.False(t, again.Armed(), "loading does not arm")

	require.NoError(t, again.Start())
	assert.True(t, again.Armed())
	assert.Equal(t, 1, sched.count())

	sub, ok := again.Get("G1")
	require.True(t, ok)
	args, err := DecodeArgs(sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"margherita", "extra cheese"}, args)
}

func TestTriggerRunsThroughJobManager(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	client := platformtest.New(platform.User{ID: "bot"})
	jobs := jobmgr.NewManager(zaptest.NewLogger(t))
	sched := newFakeScheduler()
	set := NewSet(Options{
		Name: "pizzatask", Schedule: "@every 1m", Body: pizza,
		Sender: client, Scheduler: sched, Jobs: jobs, Log: zaptest.NewLogger(t),
	})
	_, err := set.Add(ctx, "G", "C", nil)
	require.NoError(t, err)

	sched.tick()
	assert.Eventually(t, func() bool { return len(client.SentTo("C")) == 1 }, time.Second, time.Millisecond)
	jobs.Shutdown()
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * * *"))
	assert.NoError(t, Validate("0 9 * * 1"))
	assert.NoError(t, Validate("@every 30s"))
	assert.Error(t, Validate("every five minutes"))
	assert.Error(t, Validate(""))
}

func TestCronScheduler(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewCronScheduler(zaptest.NewLogger(t))
	s.Start()

	_, err := s.Arm("not a cron", func() {})
	assert.Error(t, err)

	fired := make(chan struct{}, 4)
	h, err := s.Arm("@every 10ms", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Armed())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}

	s.Disarm(h)
	s.Disarm(h)
	assert.Equal(t, 0, s.Armed())
	s.Stop()
}
