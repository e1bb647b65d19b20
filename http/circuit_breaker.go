package http

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the position of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	// StateHalfOpen lets a single trial call through after the cooldown.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrTrialInFlight = errors.New("circuit breaker trial call in flight")
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name appears in rejection errors.
	Name string
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// IsFailure filters which errors count. Nil counts every error.
	IsFailure func(err error) bool
}

// DefaultCircuitBreakerConfig opens after five failures for 30 seconds.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// CircuitBreaker rejects calls to a remote that keeps failing. After the
// cooldown one trial call decides whether the circuit closes again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn when the circuit admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(err, trial)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.cfg.Name)
		}
		cb.state = StateHalfOpen
	}
	if cb.state == StateHalfOpen {
		if cb.trial {
			return false, fmt.Errorf("%w: %s", ErrTrialInFlight, cb.cfg.Name)
		}
		cb.trial = true
		return true, nil
	}
	return false, nil
}

// settle records an outcome. Calls admitted before the circuit opened do
// not move it.
func (cb *CircuitBreaker) settle(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))
	if trial {
		cb.trial = false
		if failed {
			cb.open()
		} else {
			cb.state = StateClosed
			cb.failures = 0
		}
		return
	}
	if cb.state != StateClosed {
		return
	}
	if !failed {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
}
