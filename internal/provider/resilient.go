package provider

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

const (
	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 60 * time.Second
)

type ResilienceOptions struct {
	RateLimit      float64
	CircuitBreaker bool
	// OpenTimeout overrides how long the breaker stays open.
	OpenTimeout time.Duration
}

// Resilient guards a provider with a token-bucket limiter and a circuit
// breaker. Either may be disabled.
type Resilient struct {
	inner   service.EmbeddingProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewResilient(inner service.EmbeddingProvider, opts ResilienceOptions) *Resilient {
	r := &Resilient{inner: inner}

	if opts.RateLimit > 0 {
		burst := int(math.Ceil(opts.RateLimit))
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	if opts.CircuitBreaker {
		timeout := opts.OpenTimeout
		if timeout <= 0 {
			timeout = breakerOpenTimeout
		}
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embedding:" + inner.ModelName(),
			Timeout: timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerConsecutiveFailures
			},
			// A caller giving up says nothing about the provider's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("provider: circuit breaker %s: %s -> %s", name, from, to)
			},
		})
	}

	return r
}

func (r *Resilient) ModelName() string { return r.inner.ModelName() }
func (r *Resilient) Dimensions() int   { return r.inner.Dimensions() }

func (r *Resilient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, domain.NewEmbeddingError("rate limit wait aborted", err)
		}
	}

	if r.breaker == nil {
		return r.inner.Embed(ctx, texts)
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewEmbeddingError("embedding provider unavailable", err)
		}
		return nil, err
	}
	return out.([][]float32), nil
}

// State reports the breaker state, or closed when there is no breaker.
func (r *Resilient) State() gobreaker.State {
	if r.breaker == nil {
		return gobreaker.StateClosed
	}
	return r.breaker.State()
}

// Close closes the wrapped provider when it holds resources.
func (r *Resilient) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
