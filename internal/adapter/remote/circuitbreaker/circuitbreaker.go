// Package circuitbreaker tracks the health of remote service endpoints and
// stops calls to endpoints that keep failing.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of an endpoint's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold         = 3
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

// Config holds the breaker settings. Zero fields take defaults.
type Config struct {
	FailureThreshold         int           // consecutive failures that open the circuit
	ResetTimeout             time.Duration // time spent Open before probing in HalfOpen
	HalfOpenSuccessThreshold int           // successes in HalfOpen that close the circuit
	Now                      func() time.Time
}

type endpointState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// CircuitBreaker is an in-memory, per-endpoint circuit breaker, safe for
// concurrent use.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	cfg       Config
}

// NewCircuitBreaker creates a CircuitBreaker.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{endpoints: make(map[string]*endpointState), cfg: cfg}
}

// get must be called with mu held.
func (cb *CircuitBreaker) get(endpoint string) *endpointState {
	es, ok := cb.endpoints[endpoint]
	if !ok {
		es = &endpointState{state: StateClosed}
		cb.endpoints[endpoint] = es
	}
	return es
}

// AllowRequest reports whether a call to endpoint may proceed. An Open
// circuit whose reset timeout has passed moves to HalfOpen.
func (cb *CircuitBreaker) AllowRequest(endpoint string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	es := cb.get(endpoint)
	switch es.state {
	case StateOpen:
		if cb.cfg.Now().Before(es.openUntil) {
			return false
		}
		es.state = StateHalfOpen
		es.consecutiveFailures = 0
		es.consecutiveSuccesses = 0
		return true
	default:
		return true
	}
}

// RecordFailure records a failed call to endpoint.
func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	es := cb.get(endpoint)
	switch es.state {
	case StateClosed:
		es.consecutiveFailures++
		if es.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.open(es)
		}
	case StateHalfOpen:
		// One failed probe re-opens for a full timeout.
		es.consecutiveFailures = cb.cfg.FailureThreshold
		cb.open(es)
	case StateOpen:
	}
}

func (cb *CircuitBreaker) open(es *endpointState) {
	es.state = StateOpen
	es.consecutiveSuccesses = 0
	es.openUntil = cb.cfg.Now().Add(cb.cfg.ResetTimeout)
}

// RecordSuccess records a successful call to endpoint.
func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	es := cb.get(endpoint)
	switch es.state {
	case StateClosed:
		es.consecutiveFailures = 0
	case StateHalfOpen:
		es.consecutiveSuccesses++
		if es.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			es.state = StateClosed
			es.consecutiveFailures = 0
			es.consecutiveSuccesses = 0
		}
	case StateOpen:
	}
}

// GetProviderStatus returns the state and consecutive failure count of
// endpoint without transitioning it.
func (cb *CircuitBreaker) GetProviderStatus(endpoint string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	es, ok := cb.endpoints[endpoint]
	if !ok {
		return StateClosed, 0
	}
	return es.state, es.consecutiveFailures
}
