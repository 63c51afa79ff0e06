// Package retrylimit paces outgoing requests with a rate that adapts to the
// remote side and retries failed ones with exponential backoff.
//
//	lim := retrylimit.NewLimiter(5, 1, 20)
//	err := retrylimit.Do(ctx, lim, retrylimit.DefaultPolicy(), func(ctx context.Context) error {
//		return send(ctx)
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket whose rate grows on success and shrinks when the
// remote side pushes back.
type Limiter struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	lo, hi   rate.Limit
	stepUp   rate.Limit
	stepDown float64
	cooldown time.Duration
	lastHit  time.Time
}

// NewLimiter starts at initial requests per second and stays within [lo, hi].
func NewLimiter(initial, lo, hi rate.Limit) *Limiter {
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	initial = clamp(initial, lo, hi)
	return &Limiter{
		lim:      rate.NewLimiter(initial, burst(initial)),
		lo:       lo,
		hi:       hi,
		stepUp:   1,
		stepDown: 0.5,
		cooldown: 10 * time.Second,
	}
}

// Wait blocks until a request may be made.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Success raises the rate unless the remote side pushed back recently.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastHit) > l.cooldown {
		l.set(l.lim.Limit() + l.stepUp)
	}
}

// Throttled halves the rate.
func (l *Limiter) Throttled() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastHit = time.Now()
	l.set(rate.Limit(float64(l.lim.Limit()) * l.stepDown))
}

// Limit returns the current rate in requests per second.
func (l *Limiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim.Limit()
}

func (l *Limiter) set(r rate.Limit) {
	r = clamp(r, l.lo, l.hi)
	if r != l.lim.Limit() {
		l.lim.SetLimit(r)
		l.lim.SetBurst(burst(r))
	}
}

func clamp(r, lo, hi rate.Limit) rate.Limit {
	switch {
	case r < lo:
		return lo
	case r > hi:
		return hi
	}
	return r
}

func burst(r rate.Limit) int {
	return max(1, int(r))
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the inner error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retrylimit: attempts exhausted")

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ThrottleDelay is waited after a 429 instead of the backoff delay.
	ThrottleDelay time.Duration
	Multiplier    float64
	Jitter        bool
	Log           *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		ThrottleDelay: time.Second,
		Multiplier:    2,
		Jitter:        true,
	}
}

// Do calls fn until it succeeds, returns a Permanent error, ctx ends or the
// attempts run out.
func Do(ctx context.Context, lim *Limiter, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	delay := p.InitialDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		}

		err = fn(ctx)
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				log.Debug("Succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := delay
		switch code := statusOf(err); {
		case code == http.StatusTooManyRequests:
			if lim != nil {
				lim.Throttled()
			}
			wait = p.ThrottleDelay
			log.Warn("Throttled, retrying", zap.Int("attempt", attempt), zap.Error(err))
		case code >= 500 && code < 600:
			if lim != nil {
				lim.Throttled()
			}
			log.Warn("Server error, retrying", zap.Int("attempt", attempt), zap.Duration("delay", wait), zap.Error(err))
		default:
			log.Debug("Attempt failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", wait), zap.Error(err))
		}
		if p.Jitter {
			wait = jitter(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, err)
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// jitter adds up to a quarter of d.
func jitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + rand.N(d/4)
}
