package retrylimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type statusErr int

func (e statusErr) Error() string   { return "status" }
func (e statusErr) StatusCode() int { return int(e) }

func fastPolicy(t *testing.T) Policy {
	return Policy{
		MaxAttempts:   4,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		ThrottleDelay: time.Millisecond,
		Multiplier:    2,
		Log:           zaptest.NewLogger(t),
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fastPolicy(t), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	gone := errors.New("gone")
	calls := 0
	err := Do(context.Background(), nil, fastPolicy(t), func(context.Context) error {
		calls++
		return Permanent(gone)
	})
	assert.Equal(t, gone, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fastPolicy(t), func(context.Context) error {
		calls++
		return statusErr(503)
	})
	assert.ErrorIs(t, err, ErrExhausted)
	var sc StatusCoder
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, 503, sc.StatusCode())
	assert.Equal(t, 4, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(t)
	p.InitialDelay = time.Hour
	err := Do(ctx, nil, p, func(context.Context) error {
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestThrottleLowersLimit(t *testing.T) {
	lim := NewLimiter(8, 1, 10)
	calls := 0
	err := Do(context.Background(), lim, fastPolicy(t), func(context.Context) error {
		calls++
		if calls == 1 {
			return statusErr(429)
		}
		return nil
	})
	require.NoError(t, err)
	// halved by the 429; the success inside the cooldown does not raise it
	assert.Equal(t, rate.Limit(4), lim.Limit())
}

func TestLimiterBounds(t *testing.T) {
	lim := NewLimiter(50, 2, 5)
	assert.Equal(t, rate.Limit(5), lim.Limit())

	lim.Success()
	assert.Equal(t, rate.Limit(5), lim.Limit())

	for i := 0; i < 5; i++ {
		lim.Throttled()
	}
	assert.Equal(t, rate.Limit(2), lim.Limit())
}
