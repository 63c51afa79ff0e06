// Package plugin defines the three plugin variants the bot runs: commands
// invoked by users, tasks fired on a schedule, and filters that see every message.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/task"
)

type Kind string

const (
	KindCommand Kind = "command"
	KindTask    Kind = "task"
	KindFilter  Kind = "filter"
)

type Permission string

const (
	PermEveryone Permission = "everyone"
	PermAdmin    Permission = "admin"
	PermMaster   Permission = "master"
	PermRole     Permission = "role"
)

func (p Permission) valid() bool {
	switch p {
	case PermEveryone, PermAdmin, PermMaster, PermRole:
		return true
	}
	return false
}

const DefaultCategory = "uncategorized"

// HookPreParse filters run before a message is tokenized.
const HookPreParse = "preParse"

// Header is the metadata every variant carries.
type Header struct {
	Name        string
	Category    string
	Description string
	Aliases     []string
	Permission  Permission
	AllowDM     bool
	// Arguments names the argument slots; nil means the plugin takes whatever
	// it is given without an arity check.
	Arguments         []string
	ArgumentsOptional bool
	// UseStore plugins are only loaded when persistence is configured.
	UseStore bool
}

// Info returns the header itself.
func (h *Header) Info() *Header { return h }

// Usage renders "name <arg> <arg>" with optional slots in brackets.
func (h *Header) Usage() string {
	var b strings.Builder
	b.WriteString(h.Name)
	for _, a := range h.Arguments {
		if h.ArgumentsOptional {
			fmt.Fprintf(&b, " [%s]", a)
		} else {
			fmt.Fprintf(&b, " <%s>", a)
		}
	}
	return b.String()
}

// Plugin is one of *Command, *Task or *Filter.
type Plugin interface {
	Kind() Kind
	Info() *Header
	sealed()
}

type (
	CommandFunc func(ctx context.Context, inv *Invocation) error
	TaskFunc    func(ctx context.Context, env Env) (string, error)
	FilterFunc  func(ctx context.Context, msg *platform.Message, env Env) (bool, error)
)

type Command struct {
	Header
	fn CommandFunc
}

func (*Command) Kind() Kind { return KindCommand }
func (*Command) sealed()    {}

func (c *Command) Plugin() Plugin { return c }

func (c *Command) Run(ctx context.Context, inv *Invocation) error {
	return c.fn(ctx, inv)
}

// Task is a plugin whose body runs on Schedule and whose output is delivered to
// every subscribed guild. Users start and stop it per guild.
type Task struct {
	Header
	Schedule string
	fn       TaskFunc
	subs     *task.Set
}

func (*Task) Kind() Kind { return KindTask }
func (*Task) sealed()    {}

func (t *Task) Plugin() Plugin { return t }

// Execute runs the task body once.
func (t *Task) Execute(ctx context.Context, env Env) (string, error) {
	return t.fn(ctx, env)
}

// Bind attaches the task's subscription set.
func (t *Task) Bind(s *task.Set) { t.subs = s }

// Subscriptions returns the bound subscription set, nil before registration.
func (t *Task) Subscriptions() *task.Set { return t.subs }

// Started reports whether guildID is subscribed.
func (t *Task) Started(guildID string) bool {
	return t.subs != nil && t.subs.Has(guildID)
}

// Verbs accepted by a task invocation.
const (
	VerbStart = "start"
	VerbStop  = "stop"
)

var errUnbound = errors.New("task has no subscription set")

// Run handles "start" and "stop" for the invoking guild.
func (t *Task) Run(ctx context.Context, inv *Invocation) error {
	if inv.Message.IsDirect() {
		return inv.Reply(ctx, "Tasks can only be started or stopped inside a guild.")
	}
	if t.subs == nil {
		return fmt.Errorf("%s: %w", t.Name, errUnbound)
	}

	guild := inv.Message.GuildID
	switch strings.ToLower(inv.Arg(0)) {
	case VerbStart:
		added, err := t.subs.Add(ctx, guild, inv.Message.ChannelID, inv.Args[1:])
		if err != nil {
			return err
		}
		if !added {
			return inv.Reply(ctx, fmt.Sprintf("Task %s is already running in this guild.", t.Name))
		}
		return inv.Reply(ctx, fmt.Sprintf("Task %s started. Results will be posted in this channel.", t.Name))
	case VerbStop:
		removed, err := t.subs.Remove(ctx, guild)
		if err != nil {
			return err
		}
		if !removed {
			return inv.Reply(ctx, fmt.Sprintf("Task %s is not running in this guild.", t.Name))
		}
		return inv.Reply(ctx, fmt.Sprintf("Task %s stopped.", t.Name))
	default:
		return inv.Reply(ctx, fmt.Sprintf("Usage: %s%s", inv.Env.Prefix(ctx, guild), t.Usage()))
	}
}

// Filter sees messages at Hook. Returning false stops further processing.
type Filter struct {
	Header
	Hook string
	fn   FilterFunc
}

func (*Filter) Kind() Kind { return KindFilter }
func (*Filter) sealed()    {}

func (f *Filter) Apply(ctx context.Context, msg *platform.Message, env Env) (bool, error) {
	return f.fn(ctx, msg, env)
}
