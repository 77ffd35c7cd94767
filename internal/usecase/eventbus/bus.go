package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"realmforge/internal/domain"
)

type attachment struct {
	seq      uint64
	observer domain.Observer
}

// Bus is an in-process, goroutine-safe telemetry fan-out. Observers that fail
// during delivery are detached after the broadcast completes.
type Bus struct {
	mu        sync.RWMutex
	observers []attachment
	closed    bool
	nextSeq   atomic.Uint64
	logger    *slog.Logger
	inflight  sync.WaitGroup
}

var _ domain.TelemetryBus = (*Bus)(nil)

// New creates a telemetry bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Attach registers an observer. The returned function detaches exactly this
// attachment and is safe to call more than once.
func (b *Bus) Attach(o domain.Observer) func() {
	seq := b.nextSeq.Add(1)

	b.mu.Lock()
	b.observers = append(b.observers, attachment{seq: seq, observer: o})
	b.mu.Unlock()

	b.logger.Debug("observer attached", "observer", o.ID())
	return func() { b.remove(func(a attachment) bool { return a.seq == seq }) }
}

// Detach removes every attachment of the observer with o's ID.
func (b *Bus) Detach(o domain.Observer) {
	id := o.ID()
	if n := b.remove(func(a attachment) bool { return a.observer.ID() == id }); n > 0 {
		b.logger.Debug("observer detached", "observer", id)
	}
}

// remove rebuilds the observer slice so snapshots taken by concurrent
// broadcasts are never mutated.
func (b *Bus) remove(match func(attachment) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make([]attachment, 0, len(b.observers))
	for _, a := range b.observers {
		if !match(a) {
			kept = append(kept, a)
		}
	}
	removed := len(b.observers) - len(kept)
	b.observers = kept
	return removed
}

// Broadcast delivers ev to every attached observer concurrently and waits for
// all deliveries. Failures never reach the caller. Observers see ctx's values
// but never its cancellation.
func (b *Bus) Broadcast(ctx context.Context, ev domain.TelemetryEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.inflight.Add(1)
	snapshot := b.observers
	b.mu.RUnlock()
	defer b.inflight.Done()

	if len(snapshot) == 0 {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ctx = context.WithoutCancel(ctx)

	failed := make([]bool, len(snapshot))
	var wg sync.WaitGroup
	for i, a := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.deliver(ctx, a.observer, ev); err != nil {
				b.logger.Warn("observer delivery failed, detaching",
					"observer", a.observer.ID(),
					"event", string(ev.Type),
					"error", err,
				)
				failed[i] = true
			}
		}()
	}
	wg.Wait()

	dead := make(map[uint64]bool)
	for i, f := range failed {
		if f {
			dead[snapshot[i].seq] = true
		}
	}
	if len(dead) > 0 {
		b.remove(func(a attachment) bool { return dead[a.seq] })
	}
}

func (b *Bus) deliver(ctx context.Context, o domain.Observer, ev domain.TelemetryEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return o.Notify(ctx, ev)
}

// Len returns the number of attached observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Close stops further broadcasts and waits for in-flight ones to finish.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}
