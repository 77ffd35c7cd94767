package resilience

import (
	"context"

	"realmforge/internal/domain"
)

// Provider retries a reasoning engine under a policy.
type Provider struct {
	inner   domain.LLMProvider
	retrier *Retrier
	policy  Policy
}

var _ domain.LLMProvider = (*Provider)(nil)

// NewProvider wraps inner so every Chat call runs under policy.
func NewProvider(inner domain.LLMProvider, retrier *Retrier, policy Policy) *Provider {
	return &Provider{inner: inner, retrier: retrier, policy: policy}
}

func (p *Provider) Name() string { return p.inner.Name() }

// Chat labels the policy with the acting department when the context carries
// one.
func (p *Provider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	policy := p.policy
	if dept := domain.InvokerFromContext(ctx).Department; dept != "" {
		policy = policy.WithContext(dept)
	}
	return DoValue(ctx, p.retrier, policy, func(ctx context.Context) (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
}
