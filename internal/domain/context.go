package domain

import "context"

type ctxKey string

const invokerCtxKey ctxKey = "invoker"

// Invoker identifies who is acting inside a mission step.
type Invoker struct {
	MissionID  string
	Agent      string
	Department string
}

// ContextWithInvoker returns a new context carrying the acting agent.
func ContextWithInvoker(ctx context.Context, inv Invoker) context.Context {
	return context.WithValue(ctx, invokerCtxKey, inv)
}

// InvokerFromContext extracts the acting agent from the context.
// Returns the zero Invoker if not set.
func InvokerFromContext(ctx context.Context) Invoker {
	if v, ok := ctx.Value(invokerCtxKey).(Invoker); ok {
		return v
	}
	return Invoker{}
}
