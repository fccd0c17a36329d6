package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

// CircuitBreaker guards a downstream dependency (the order
// confirmation gateway). It trips open once the failure ratio over a
// rolling interval crosses the threshold, rejects calls for the
// cooldown period, then lets a probe through half-open.
type CircuitBreaker struct {
	name         string
	minRequests  uint32
	interval     time.Duration
	cooldown     time.Duration
	failureRatio float64

	mu       sync.Mutex
	state    BreakerState
	requests uint32
	failures uint32
	expiry   time.Time
}

func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		minRequests:  10,
		interval:     60 * time.Second,
		cooldown:     30 * time.Second,
		failureRatio: 0.6,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(time.Now())
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(time.Now())
	if cb.state == BreakerOpen {
		return ErrBreakerOpen
	}
	cb.requests++
	return nil
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refresh(now)

	if success {
		if cb.state == BreakerHalfOpen {
			cb.reset(now)
		}
		return
	}

	cb.failures++
	if cb.state == BreakerHalfOpen {
		cb.trip(now)
		return
	}
	if cb.requests >= cb.minRequests &&
		float64(cb.failures)/float64(cb.requests) >= cb.failureRatio {
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) refresh(now time.Time) {
	switch cb.state {
	case BreakerClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			// Rolling interval elapsed, start a fresh window.
			cb.reset(now)
		}
	case BreakerOpen:
		if cb.expiry.Before(now) {
			cb.state = BreakerHalfOpen
			cb.requests = 0
			cb.failures = 0
		}
	}
}

func (cb *CircuitBreaker) reset(now time.Time) {
	cb.state = BreakerClosed
	cb.requests = 0
	cb.failures = 0
	cb.expiry = now.Add(cb.interval)
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = BreakerOpen
	cb.expiry = now.Add(cb.cooldown)
}
