package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
)

// RateLimitedProvider waits for a token before every engine call. All
// missions sharing the provider share the budget.
type RateLimitedProvider struct {
	inner   domain.LLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider spreads RequestsPerMin over each minute. It returns
// inner unchanged when RequestsPerMin is zero.
func NewRateLimitedProvider(inner domain.LLMProvider, cfg config.RateLimitConfig) domain.LLMProvider {
	if cfg.RequestsPerMin <= 0 {
		return inner
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, burst),
	}
}

// Chat implements domain.LLMProvider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Wait fails early when the deadline cannot be met.
		return nil, fmt.Errorf("%w: %w", domain.ErrRateLimit, err)
	}
	return p.inner.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }
