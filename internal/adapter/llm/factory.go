package llm

import (
	"fmt"
	"log/slog"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
)

// NewFromConfig builds the configured engine client and stacks the rate
// limiter and circuit breaker on top of it. The breaker sits outermost so
// that an open circuit fails fast without consuming a rate token.
func NewFromConfig(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	var base domain.LLMProvider
	switch cfg.Provider.Type {
	case "openai":
		base = NewOpenAIProvider(cfg.Provider, logger)
	case "scripted":
		base = NewScriptedProvider(cfg.Provider.Name, cfg.Provider.Script)
	default:
		return nil, fmt.Errorf("llm provider type %q: %w", cfg.Provider.Type, domain.ErrInvalidInput)
	}

	provider := NewRateLimitedProvider(base, cfg.RateLimit)
	if cfg.CircuitBreaker.Enabled {
		provider = NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
	}
	logger.Info("reasoning engine ready",
		"provider", provider.Name(),
		"type", cfg.Provider.Type,
		"model", cfg.Provider.Model,
	)
	return provider, nil
}
