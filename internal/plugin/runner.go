package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Runner is an invocable plugin, possibly wrapped by middleware.
type Runner interface {
	Plugin() Plugin
	Run(ctx context.Context, inv *Invocation) error
}

var (
	_ Runner = (*Command)(nil)
	_ Runner = (*Task)(nil)
)

// Middleware wraps a runner (timing, panic recovery).
type Middleware func(Runner) Runner

// Apply applies middlewares in order; the last in the list is the outermost.
func Apply(r Runner, mws ...Middleware) Runner {
	for _, mw := range mws {
		r = mw(r)
	}
	return r
}

type wrapped struct {
	inner Runner
	run   func(ctx context.Context, inv *Invocation) error
}

func (w *wrapped) Plugin() Plugin { return w.inner.Plugin() }

func (w *wrapped) Run(ctx context.Context, inv *Invocation) error { return w.run(ctx, inv) }

func (w *wrapped) Unwrap() Runner { return w.inner }

// Wrap returns a runner that runs run instead of r.Run.
func Wrap(r Runner, run func(ctx context.Context, inv *Invocation) error) Runner {
	return &wrapped{inner: r, run: run}
}

// Root unwraps r down to the plugin's own runner.
func Root(r Runner) Runner {
	for {
		w, ok := r.(interface{ Unwrap() Runner })
		if !ok {
			return r
		}
		r = w.Unwrap()
	}
}

// PanicError is a recovered panic from a plugin body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// WithRecover turns a panic in the body into a *PanicError.
func WithRecover() Middleware {
	return func(next Runner) Runner {
		return Wrap(next, func(ctx context.Context, inv *Invocation) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next.Run(ctx, inv)
		})
	}
}

// WithTiming logs how long each run took.
func WithTiming(log *zap.Logger) Middleware {
	return func(next Runner) Runner {
		return Wrap(next, func(ctx context.Context, inv *Invocation) error {
			start := time.Now()
			err := next.Run(ctx, inv)
			log.Debug("plugin finished",
				zap.String("plugin", next.Plugin().Info().Name),
				zap.String("guild", inv.Message.GuildID),
				zap.Duration("elapsed", time.Since(start)),
				zap.Bool("failed", err != nil),
			)
			return err
		})
	}
}
