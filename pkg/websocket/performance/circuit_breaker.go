package performance

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

type circuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        BreakerState
	now          func() time.Time
	mutex        sync.Mutex
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) CircuitBreaker {
	return newCircuitBreaker(maxFailures, resetTimeout, time.Now)
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration, now func() time.Time) *circuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &circuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          now,
	}
}

// Execute runs fn unless the breaker is open. fn runs outside the breaker lock.
func (cb *circuitBreaker) Execute(fn func() error) error {
	cb.mutex.Lock()
	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			cb.mutex.Unlock()
			return ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.failures = 0
	}
	cb.mutex.Unlock()

	err := fn()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = BreakerOpen
		}
		return err
	}

	cb.state = BreakerClosed
	cb.failures = 0
	return nil
}

func (cb *circuitBreaker) GetState() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}
