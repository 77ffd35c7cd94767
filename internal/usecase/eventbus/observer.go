package eventbus

import (
	"context"

	"realmforge/internal/domain"
)

// ObserverFunc adapts a function to domain.Observer.
type ObserverFunc struct {
	Name string
	Fn   func(ctx context.Context, ev domain.TelemetryEvent) error
}

func (f ObserverFunc) ID() string { return f.Name }

func (f ObserverFunc) Notify(ctx context.Context, ev domain.TelemetryEvent) error {
	return f.Fn(ctx, ev)
}

// Filtered forwards only events of the given types to o.
func Filtered(o domain.Observer, types ...domain.EventType) domain.Observer {
	allowed := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return filtered{inner: o, allowed: allowed}
}

type filtered struct {
	inner   domain.Observer
	allowed map[domain.EventType]bool
}

func (f filtered) ID() string { return f.inner.ID() }

func (f filtered) Notify(ctx context.Context, ev domain.TelemetryEvent) error {
	if !f.allowed[ev.Type] {
		return nil
	}
	return f.inner.Notify(ctx, ev)
}
