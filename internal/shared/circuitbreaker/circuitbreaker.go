package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // Consecutive failures before opening the circuit
	ResetTimeout    time.Duration // Time to wait before probing in half-open
	MaxHalfOpenReqs int           // Successful probes in half-open before closing
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:     5,
		ResetTimeout:    30 * time.Second,
		MaxHalfOpenReqs: 3,
	}
}

// CircuitBreaker fails fast once a downstream dependency has failed
// repeatedly, probing it again after a reset timeout
type CircuitBreaker struct {
	mu              sync.Mutex
	maxFailures     int
	resetTimeout    time.Duration
	maxHalfOpenReqs int
	state           State
	failures        int
	successCount    int
	lastStateChange time.Time
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultConfig().MaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if config.MaxHalfOpenReqs <= 0 {
		config.MaxHalfOpenReqs = DefaultConfig().MaxHalfOpenReqs
	}

	return &CircuitBreaker{
		maxFailures:     config.MaxFailures,
		resetTimeout:    config.ResetTimeout,
		maxHalfOpenReqs: config.MaxHalfOpenReqs,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs the given function if the circuit is closed or half-open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

// beforeRequest checks if the request can be executed
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			cb.lastStateChange = time.Now()
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.successCount >= cb.maxHalfOpenReqs {
			return ErrTooManyRequests
		}
		return nil

	default:
		return ErrCircuitOpen
	}
}

// afterRequest updates the circuit breaker state after a request
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.maxFailures {
				cb.state = StateOpen
				cb.lastStateChange = time.Now()
			}
		case StateHalfOpen:
			// A single failure in half-open reopens the circuit
			cb.state = StateOpen
			cb.successCount = 0
			cb.lastStateChange = time.Now()
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.maxHalfOpenReqs {
			cb.state = StateClosed
			cb.failures = 0
			cb.successCount = 0
			cb.lastStateChange = time.Now()
		}
	case StateClosed:
		cb.failures = 0
	}
}

// GetFailures returns the current consecutive failure count
func (cb *CircuitBreaker) GetFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually returns the circuit breaker to the closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.lastStateChange = time.Now()
}
