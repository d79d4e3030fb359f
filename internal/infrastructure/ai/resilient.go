package ai

import (
	"context"
	"errors"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/circuitbreaker"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/retry"
)

// Provider is the streaming contract shared by every adapter here.
type Provider interface {
	GenerateStreaming(ctx context.Context, prompt string, onDelta func(string)) (string, error)
	Name() string
}

// ResilientConfig configures the resilience decorator.
type ResilientConfig struct {
	MaxAttempts      int
	FailureThreshold int
	OpenFor          time.Duration
}

// DefaultResilientConfig returns default settings.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:      2,
		FailureThreshold: 5,
		OpenFor:          30 * time.Second,
	}
}

// ResilientProvider adds a circuit breaker and retries to a Provider.
// A call is retried only while no delta has been forwarded, so the caller
// never sees a stream restart.
type ResilientProvider struct {
	inner   Provider
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewResilientProvider wraps inner.
func NewResilientProvider(inner Provider, cfg ResilientConfig, log *logger.Logger) *ResilientProvider {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultResilientConfig().MaxAttempts
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultResilientConfig().FailureThreshold
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = DefaultResilientConfig().OpenFor
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("ai_provider"), logger.Provider(inner.Name()))

	breaker := circuitbreaker.AIProviderBreaker(inner.Name(), cfg.FailureThreshold, cfg.OpenFor,
		func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	retrier := retry.AIProviderRetrier(
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying ai call", logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
		}),
	)

	return &ResilientProvider{inner: inner, breaker: breaker, retrier: retrier, log: log}
}

// Name returns the wrapped provider's name.
func (p *ResilientProvider) Name() string {
	return p.inner.Name()
}

// Breaker exposes the circuit breaker.
func (p *ResilientProvider) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// GenerateStreaming runs the wrapped call under the breaker with retries.
func (p *ResilientProvider) GenerateStreaming(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	var (
		text      string
		forwarded bool
	)
	start := time.Now()

	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		return p.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			text, err = p.inner.GenerateStreaming(ctx, prompt, func(delta string) {
				forwarded = true
				if onDelta != nil {
					onDelta(delta)
				}
			})
			if err != nil && forwarded {
				return retry.Permanent(err)
			}
			return err
		})
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return "", shared.WrapError("ai", "GenerateStreaming", shared.ErrServiceUnavailable,
			"provider "+p.inner.Name()+" is unavailable", err)
	}
	if err != nil {
		return text, err
	}

	p.log.Debug("ai call completed", logger.Latency(time.Since(start)), logger.Int("chars", len(text)))
	return text, nil
}
