package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerInterval = 60 * time.Second
)

// CircuitBreakerProvider stops calling a failing reasoning engine once
// MaxFailures consecutive calls have failed, and lets a single probe through
// after Timeout.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerProvider wraps inner. Zero config fields take defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Caller cancellation says nothing about engine health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("reasoning engine circuit state changed",
				"provider", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &CircuitBreakerProvider{inner: inner, breaker: cb, logger: logger}
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("provider %q: %w: %w", p.inner.Name(), domain.ErrCircuitOpen, err)
	}
	return resp, err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the breaker state.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

// Counts returns the breaker's success and failure counters.
func (p *CircuitBreakerProvider) Counts() gobreaker.Counts { return p.breaker.Counts() }

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)
