// Package resilience provides retry-with-backoff middleware that reports its
// repairs and terminal faults on the telemetry bus.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
)

// Policy controls how an operation is retried. Retries is the total number of
// attempts; Delay is multiplied by Backoff after every failed attempt.
type Policy struct {
	Retries int
	Delay   time.Duration
	Backoff float64
	Context string // label used in telemetry, e.g. a department name
}

// DefaultPolicy returns 3 attempts, 2s initial delay, doubling backoff.
func DefaultPolicy() Policy {
	return Policy{Retries: 3, Delay: 2 * time.Second, Backoff: 2.0, Context: "General"}
}

// PolicyFromConfig builds a policy from the retry section of the config.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{Retries: cfg.Retries, Delay: cfg.Delay, Backoff: cfg.Backoff, Context: "General"}
}

// WithContext returns a copy of p labelled with label.
func (p Policy) WithContext(label string) Policy {
	p.Context = label
	return p
}

func (p Policy) normalized() Policy {
	if p.Retries < 1 {
		p.Retries = 1
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Context == "" {
		p.Context = "General"
	}
	return p
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier runs operations under a Policy.
type Retrier struct {
	bus    domain.TelemetryBus
	logger *slog.Logger
	sleep  Sleeper
}

// NewRetrier creates a retrier. bus may be nil.
func NewRetrier(bus domain.TelemetryBus, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{bus: bus, logger: logger, sleep: sleepCtx}
}

// WithSleeper replaces the sleep function, for tests.
func (r *Retrier) WithSleeper(s Sleeper) *Retrier {
	cp := *r
	cp.sleep = s
	return &cp
}

// Do runs fn until it succeeds or the policy's attempts are used up. The
// returned error wraps both domain.ErrRetriesExhausted and the last failure.
func (r *Retrier) Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()
	delay := p.Delay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		if !Retryable(err) {
			err = unwrapPermanent(err)
			r.terminal(ctx, p, attempt, err)
			return err
		}
		if attempt >= p.Retries {
			r.terminal(ctx, p, attempt, err)
			return fmt.Errorf("%s: %w: %w", p.Context, domain.ErrRetriesExhausted, err)
		}

		r.repair(ctx, p, attempt, err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.Backoff)
	}
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, r *Retrier, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Wrap returns fn decorated with the retry policy.
func (r *Retrier) Wrap(p Policy, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error { return r.Do(ctx, p, fn) }
}

func (r *Retrier) repair(ctx context.Context, p Policy, attempt int, err error) {
	r.logger.Warn("operation failed, retrying",
		"context", p.Context, "attempt", attempt, "error", err)
	r.emit(ctx, domain.EventRepair,
		fmt.Sprintf("SYSTEM_REPAIR: %s hiccup detected. Retrying maneuver (Attempt %d)...", p.Context, attempt),
		p, attempt, err)
}

func (r *Retrier) terminal(ctx context.Context, p Policy, attempt int, err error) {
	r.logger.Error("operation failed permanently",
		"context", p.Context, "attempts", attempt, "error", err)
	r.emit(ctx, domain.EventTerminalFault,
		fmt.Sprintf("CRITICAL FAULT: %s operation failed permanently.", p.Context),
		p, attempt, err)
}

func (r *Retrier) emit(ctx context.Context, typ domain.EventType, text string, p Policy, attempt int, err error) {
	if r.bus == nil {
		return
	}
	ev := domain.NewEvent(typ, text)
	ev.Agent = domain.AgentSystemKernel
	ev.MissionID = domain.InvokerFromContext(ctx).MissionID
	ev.Fields = map[string]any{"context": p.Context, "attempt": attempt, "error": err.Error()}
	r.bus.Broadcast(ctx, ev)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func unwrapPermanent(err error) error {
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}
