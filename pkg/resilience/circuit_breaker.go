package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RateLimitError is returned by a provider that throttled the request, or by
// a breaker that refused to forward it.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	switch {
	case e.Message != "" && e.Provider != "":
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	case e.Message != "":
		return e.Message
	case e.Provider != "":
		return e.Provider + ": rate limit"
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calls to a provider after threshold consecutive rate
// limit errors. After cooldown a single trial call is let through; its
// outcome closes or reopens the breaker. Other errors do not count.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker past its cooldown
// moves to half-open and admits exactly one trial call.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case BreakerOpen:
		if c.now().Sub(c.openedAt) < c.cooldown {
			return false
		}
		c.state = BreakerHalfOpen
		return true
	case BreakerHalfOpen:
		return false
	default:
		return true
	}
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
}

// OnError records a failed call. A non rate limit error still proves the
// provider is answering, so it ends a half-open trial.
func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !IsRateLimit(err) {
		if c.state == BreakerHalfOpen {
			c.reset()
		}
		return
	}
	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.threshold {
		c.state = BreakerOpen
		c.openedAt = c.now()
	}
}

func (c *CircuitBreaker) reset() {
	c.state = BreakerClosed
	c.failures = 0
	c.openedAt = time.Time{}
}
