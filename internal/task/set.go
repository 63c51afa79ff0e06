// Package task keeps the per-guild subscriptions of recurring tasks and drives
// their scheduled fan-out.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/pkg/jobmgr"
)

// Body produces the text a task delivers to its subscribers. An empty result
// means there is nothing to send this time.
type Body func(ctx context.Context) (string, error)

// Sender delivers text to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, content string) error
}

type Options struct {
	Name     string
	Schedule string
	Body     Body
	// Store may be nil; subscriptions then live in memory only.
	Store     store.SubscriptionStore
	Sender    Sender
	Scheduler Scheduler
	// Jobs runs fan-outs; a nil manager runs them on the scheduler goroutine.
	Jobs *jobmgr.Manager
	Log  *zap.Logger
}

// Set is the subscription set of one task. Its job is armed exactly while it
// holds at least one subscription, once started.
type Set struct {
	name     string
	schedule string
	body     Body
	store    store.SubscriptionStore
	sender   Sender
	sched    Scheduler
	jobs     *jobmgr.Manager
	log      *zap.Logger

	mu     sync.RWMutex
	subs   map[string]store.Subscription
	handle Handle
	armed  bool
}

func NewSet(o Options) *Set {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Set{
		name:     o.Name,
		schedule: o.Schedule,
		body:     o.Body,
		store:    o.Store,
		sender:   o.Sender,
		sched:    o.Scheduler,
		jobs:     o.Jobs,
		log:      log.With(zap.String("task", o.Name)),
		subs:     make(map[string]store.Subscription),
	}
}

func (s *Set) Name() string { return s.name }

// Load replaces the in-memory set with the persisted subscriptions.
func (s *Set) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.Subscriptions(ctx, s.name)
	if err != nil {
		return fmt.Errorf("load subscriptions of %s: %w", s.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[string]store.Subscription, len(rows))
	for _, row := range rows {
		s.subs[row.GuildID] = row
	}
	if len(rows) > 0 {
		s.log.Info("subscriptions loaded", zap.Int("count", len(rows)))
	}
	return nil
}

// Start arms the job when there is anything to deliver to.
func (s *Set) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	return s.armLocked()
}

// Stop disarms the job. Subscriptions are kept.
func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Add subscribes guildID, delivering to channelID. It is a no-op returning
// false when the guild is already subscribed; the first channel wins.
func (s *Set) Add(ctx context.Context, guildID, channelID string, args []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[guildID]; ok {
		return false, nil
	}

	sub := store.Subscription{Name: s.name, GuildID: guildID, ChannelID: channelID}
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return false, err
		}
		sub.Args = string(raw)
	}
	if s.store != nil {
		if err := s.store.CreateSubscription(ctx, &sub); err != nil {
			return false, fmt.Errorf("subscribe %s to %s: %w", guildID, s.name, err)
		}
	}
	s.subs[guildID] = sub
	s.log.Info("subscribed", zap.String("guild", guildID), zap.String("channel", channelID))

	if err := s.armLocked(); err != nil {
		s.log.Error("arm failed", zap.Error(err))
	}
	return true, nil
}

// Remove unsubscribes guildID. It is a no-op returning false when the guild is
// not subscribed. Removing the last subscription disarms the job.
func (s *Set) Remove(ctx context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[guildID]; !ok {
		return false, nil
	}
	if s.store != nil {
		if err := s.store.DeleteSubscription(ctx, s.name, guildID); err != nil {
			return false, fmt.Errorf("unsubscribe %s from %s: %w", guildID, s.name, err)
		}
	}
	delete(s.subs, guildID)
	s.log.Info("unsubscribed", zap.String("guild", guildID))

	if len(s.subs) == 0 {
		s.disarmLocked()
	}
	return true, nil
}

// Has reports whether guildID is subscribed.
func (s *Set) Has(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[guildID]
	return ok
}

// Get returns the subscription of guildID.
func (s *Set) Get(guildID string) (store.Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[guildID]
	return sub, ok
}

// List returns the subscriptions ordered by guild id.
func (s *Set) List() []store.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Armed reports whether the job is scheduled.
func (s *Set) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

// Fire runs the task body once and delivers the result to every subscribed
// channel. Channels that no longer exist are unsubscribed; other delivery
// failures are logged and do not stop delivery to the rest.
func (s *Set) Fire(ctx context.Context) {
	subs := s.List()
	if len(subs) == 0 {
		s.Stop()
		return
	}

	out, err := s.run(ctx)
	if err != nil {
		s.log.Error("task body failed", zap.Error(err))
		return
	}
	if out == "" {
		return
	}

	for _, sub := range subs {
		err := s.sender.Send(ctx, sub.ChannelID, out)
		switch {
		case err == nil:
		case errors.Is(err, platform.ErrChannelNotFound):
			s.log.Warn("channel is gone, unsubscribing",
				zap.String("guild", sub.GuildID), zap.String("channel", sub.ChannelID))
			if _, err := s.Remove(ctx, sub.GuildID); err != nil {
				s.log.Error("unsubscribe failed", zap.String("guild", sub.GuildID), zap.Error(err))
			}
		default:
			s.log.Error("delivery failed",
				zap.String("guild", sub.GuildID), zap.String("channel", sub.ChannelID), zap.Error(err))
		}
	}
}

func (s *Set) run(ctx context.Context) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.body(ctx)
}

// trigger is the scheduler callback.
func (s *Set) trigger() {
	if s.jobs == nil {
		s.Fire(context.Background())
		return
	}
	err := s.jobs.StartAsync("task:"+s.name, func(ctx context.Context) error {
		s.Fire(ctx)
		return nil
	})
	if errors.Is(err, jobmgr.ErrRunning) {
		s.log.Warn("previous run still delivering, skipping this one")
	} else if err != nil {
		s.log.Debug("run not started", zap.Error(err))
	}
}

func (s *Set) armLocked() error {
	if s.armed {
		return nil
	}
	h, err := s.sched.Arm(s.schedule, s.trigger)
	if err != nil {
		return err
	}
	s.handle, s.armed = h, true
	s.log.Debug("armed", zap.String("schedule", s.schedule))
	return nil
}

func (s *Set) disarmLocked() {
	if !s.armed {
		return
	}
	s.sched.Disarm(s.handle)
	s.armed = false
	s.log.Debug("disarmed")
}

// DecodeArgs returns the task arguments stored with a subscription.
func DecodeArgs(sub store.Subscription) ([]string, error) {
	if sub.Args == "" {
		return nil, nil
	}
	var args []string
	if err := json.Unmarshal([]byte(sub.Args), &args); err != nil {
		return nil, fmt.Errorf("decode args of %s/%s: %w", sub.Name, sub.GuildID, err)
	}
	return args, nil
}
