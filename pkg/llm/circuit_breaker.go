package llm

import (
	"context"
	"time"

	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/resilience"
)

// CircuitBreakerAdapter refuses model calls while the provider is rate
// limiting us. A refused turn surfaces as a RateLimitError, which the session
// answers with its fallback reply.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = obs }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	if !a.breaker.Allow() {
		a.record(metrics.EventBreakerDenied, resilience.BreakerOpen)
		return Response{}, resilience.RateLimitError{Provider: a.Name(), Message: "circuit open, call refused"}
	}
	before := a.breaker.State()
	resp, err := a.inner.Generate(ctx, input)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit, before)
		}
		a.breaker.OnError(err)
	} else {
		a.breaker.OnSuccess()
	}
	a.transition(before, a.breaker.State())
	return resp, err
}

func (a *CircuitBreakerAdapter) transition(from, to resilience.BreakerState) {
	switch {
	case from == to:
	case to == resilience.BreakerOpen:
		a.record(metrics.EventBreakerOpen, to)
	case to == resilience.BreakerClosed:
		a.record(metrics.EventBreakerClose, to)
	}
}

func (a *CircuitBreakerAdapter) record(name string, state resilience.BreakerState) {
	if a.obs == nil {
		return
	}
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"provider":  a.inner.Name(),
			"component": "llm",
			"state":     state.String(),
		},
	})
}
