// Package dispatch turns inbound messages into plugin runs.
package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/parser"
	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/plugin"
)

// Outcome is where a message left the pipeline.
type Outcome int

const (
	// Filtered: a preParse filter stopped the message.
	Filtered Outcome = iota + 1
	// Ignored: not addressed to the bot, or the bot cannot answer there.
	Ignored
	// Unknown: no command or alias matched.
	Unknown
	// Denied: the author may not run the plugin.
	Denied
	// BadArguments: the argument count did not match; the author was told.
	BadArguments
	// Failed: an internal error or a failing plugin body; the author got a generic reply.
	Failed
	// NotRunnable: the token resolved to a plugin that cannot be invoked.
	NotRunnable
	// Executed: the plugin ran to completion.
	Executed
)

var outcomeNames = map[Outcome]string{
	Filtered:     "filtered",
	Ignored:      "ignored",
	Unknown:      "unknown",
	Denied:       "denied",
	BadArguments: "bad-arguments",
	Failed:       "failed",
	NotRunnable:  "not-runnable",
	Executed:     "executed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "invalid"
}

// Replies sent when something goes wrong.
const (
	replyInternal    = "Keyboard not responding. Press any key to continue."
	replyArguments   = "Ehh uhh... "
	replyCommandFail = "Uhhuh... You are screwed. I hope you have a screwdriver."
	replyTaskFail    = "There is a problem with your internet connection, please search our website for solution."
)

type Plugins interface {
	Resolve(token string) (plugin.Plugin, bool)
	Filters(hook string) []*plugin.Filter
}

type Authorizer interface {
	Authorize(ctx context.Context, msg *platform.Message, p plugin.Plugin) (bool, error)
}

type Prefixes interface {
	Get(ctx context.Context, guildID string) string
}

type Config struct {
	Client   platform.Client
	Plugins  Plugins
	Auth     Authorizer
	Prefixes Prefixes
	Env      plugin.Env
	Log      *zap.Logger
	// Middleware wraps every run, innermost first. Panic recovery is always
	// applied inside it.
	Middleware []plugin.Middleware
}

type Dispatcher struct {
	client   platform.Client
	plugins  Plugins
	auth     Authorizer
	prefixes Prefixes
	env      plugin.Env
	log      *zap.Logger
	mws      []plugin.Middleware
}

func New(cfg Config) *Dispatcher {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		client:   cfg.Client,
		plugins:  cfg.Plugins,
		auth:     cfg.Auth,
		prefixes: cfg.Prefixes,
		env:      cfg.Env,
		log:      log,
		mws:      append([]plugin.Middleware{plugin.WithRecover()}, cfg.Middleware...),
	}
}

// Dispatch runs msg through filters, addressing, resolution, authorization,
// argument binding and execution. It never panics and replies at most once.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *platform.Message) Outcome {
	log := d.log.With(
		zap.String("guild", msg.GuildID),
		zap.String("channel", msg.ChannelID),
		zap.String("author", msg.Author.ID),
	)

	if !d.runFilters(ctx, msg, log) {
		return Filtered
	}

	prefix := d.prefixes.Get(ctx, msg.GuildID)
	if !parser.IsAddressed(msg, d.client.Self(), prefix) {
		return Ignored
	}
	if !msg.IsDirect() {
		ok, err := d.client.CanSend(ctx, msg.ChannelID)
		if err != nil {
			log.Warn("send permission check failed", zap.Error(err))
			return Ignored
		}
		if !ok {
			return Ignored
		}
	}

	parsed := parser.Parse(msg.Content)
	p, ok := d.plugins.Resolve(parsed.Name)
	if !ok {
		return Unknown
	}
	name := p.Info().Name
	log = log.With(zap.String("plugin", name))

	allowed, err := d.auth.Authorize(ctx, msg, p)
	if err != nil {
		log.Error("authorization failed", zap.Error(err))
		d.reply(ctx, msg, replyInternal, log)
		return Failed
	}
	if !allowed {
		log.Debug("permission denied")
		return Denied
	}

	args, err := parsed.Arguments(p)
	if err != nil {
		var ace *parser.ArgumentCountError
		if errors.As(err, &ace) {
			d.reply(ctx, msg, replyArguments+ace.Error(), log)
			return BadArguments
		}
		log.Error("argument binding failed", zap.Error(err))
		d.reply(ctx, msg, replyInternal, log)
		return Failed
	}

	var (
		runner   plugin.Runner
		failText string
	)
	switch v := p.(type) {
	case *plugin.Command:
		runner, failText = v, replyCommandFail
	case *plugin.Task:
		runner, failText = v, replyTaskFail
	case *plugin.Filter:
		log.Warn("filter resolved as a command")
		return NotRunnable
	default:
		log.Error("unsupported plugin variant")
		return NotRunnable
	}

	inv := &plugin.Invocation{Message: msg, Name: parsed.Name, Args: args, Env: d.env}
	if err := plugin.Apply(runner, d.mws...).Run(ctx, inv); err != nil {
		fields := []zap.Field{zap.Strings("args", args), zap.Error(err)}
		var pe *plugin.PanicError
		if errors.As(err, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.Stack))
		}
		log.Error("plugin execution failed", fields...)
		d.reply(ctx, msg, failText, log)
		return Failed
	}
	return Executed
}

// runFilters reports false when a filter asked to stop. A failing filter is
// logged and skipped.
func (d *Dispatcher) runFilters(ctx context.Context, msg *platform.Message, log *zap.Logger) bool {
	for _, f := range d.plugins.Filters(plugin.HookPreParse) {
		keep, err := d.applyFilter(ctx, f, msg)
		if err != nil {
			log.Error("filter failed", zap.String("filter", f.Name), zap.Error(err))
			continue
		}
		if !keep {
			log.Debug("message stopped by filter", zap.String("filter", f.Name))
			return false
		}
	}
	return true
}

func (d *Dispatcher) applyFilter(ctx context.Context, f *plugin.Filter, msg *platform.Message) (keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			keep, err = true, &plugin.PanicError{Value: r}
		}
	}()
	return f.Apply(ctx, msg, d.env)
}

func (d *Dispatcher) reply(ctx context.Context, msg *platform.Message, content string, log *zap.Logger) {
	if err := d.client.Reply(ctx, msg, content); err != nil {
		log.Warn("reply failed", zap.Error(err))
	}
}
