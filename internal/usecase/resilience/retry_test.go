package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmforge/internal/domain"
)

type captureBus struct {
	mu     sync.Mutex
	events []domain.TelemetryEvent
}

func (b *captureBus) Attach(domain.Observer) func() { return func() {} }
func (b *captureBus) Detach(domain.Observer)        {}
func (b *captureBus) Broadcast(_ context.Context, ev domain.TelemetryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *captureBus) ofType(t domain.EventType) []domain.TelemetryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.TelemetryEvent
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingSleeper struct {
	sleeps []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestRetrier() (*Retrier, *captureBus, *recordingSleeper) {
	bus := &captureBus{}
	sl := &recordingSleeper{}
	return NewRetrier(bus, slog.Default()).WithSleeper(sl.sleep), bus, sl
}

func TestDoExhaustsWithBackoff(t *testing.T) {
	r, bus, sl := newTestRetrier()
	boom := errors.New("upstream 503")

	attempts := 0
	err := r.Do(context.Background(), Policy{Retries: 3, Delay: time.Second, Backoff: 2, Context: "Engineering"},
		func(context.Context) error {
			attempts++
			return boom
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sl.sleeps)

	repairs := bus.ofType(domain.EventRepair)
	require.Len(t, repairs, 2)
	assert.Equal(t, "SYSTEM_REPAIR: Engineering hiccup detected. Retrying maneuver (Attempt 1)...", repairs[0].Text)
	assert.Equal(t, "SYSTEM_REPAIR: Engineering hiccup detected. Retrying maneuver (Attempt 2)...", repairs[1].Text)
	assert.Equal(t, domain.AgentSystemKernel, repairs[0].Agent)

	terminal := bus.ofType(domain.EventTerminalFault)
	require.Len(t, terminal, 1)
	assert.Equal(t, "CRITICAL FAULT: Engineering operation failed permanently.", terminal[0].Text)
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	r, bus, sl := newTestRetrier()

	attempts := 0
	err := r.Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, sl.sleeps)
	assert.Len(t, bus.ofType(domain.EventRepair), 1)
	assert.Empty(t, bus.ofType(domain.EventTerminalFault))
}

func TestDoPermanentIsNotRetried(t *testing.T) {
	r, bus, sl := newTestRetrier()
	cause := errors.New("bad request")

	attempts := 0
	err := r.Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		attempts++
		return Permanent(cause)
	})

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sl.sleeps)
	assert.Len(t, bus.ofType(domain.EventTerminalFault), 1)
}

func TestDoStopsOnCancellation(t *testing.T) {
	r, bus, _ := newTestRetrier()
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := r.Do(ctx, DefaultPolicy(), func(context.Context) error {
		attempts++
		cancel()
		return errors.New("interrupted")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, bus.ofType(domain.EventRepair))
}

func TestDoSleepRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}

func TestDoValue(t *testing.T) {
	r, _, _ := newTestRetrier()
	calls := 0
	v, err := DoValue(context.Background(), r, DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWrap(t *testing.T) {
	r, _, _ := newTestRetrier()
	calls := 0
	fn := r.Wrap(Policy{Retries: 2}, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.ErrorIs(t, fn(context.Background()), domain.ErrRetriesExhausted)
	assert.Equal(t, 2, calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("x"), true},
		{"rate limit", domain.ErrRateLimit, true},
		{"permanent", Permanent(errors.New("x")), false},
		{"canceled", context.Canceled, false},
		{"auth", domain.WrapOp("chat", domain.ErrAuthInvalid), false},
		{"terminal", domain.ErrReasoningTerminal, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
