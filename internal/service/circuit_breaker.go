package service

import (
	"context"
	"sync"
	"time"

	"meshbridge/internal/constants"
	"meshbridge/internal/errors"

	"github.com/sirupsen/logrus"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
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

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// The service uses one to keep inbound reconciliation from hammering a store
// that keeps rejecting writes.
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	timeout          time.Duration
	halfOpenMaxCalls uint32
	now              func() time.Time

	mu              sync.Mutex
	state           CircuitBreakerState
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32

	logger *errors.Logger
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = constants.CBMaxFailures
	}
	if timeout <= 0 {
		timeout = constants.CBOpenTimeout
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: constants.CBHalfOpenMaxCalls,
		now:              time.Now,
		state:            StateClosed,
		logger:           errors.FromLogrus(logger),
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return errors.New(errors.ErrCodeCircuitOpen, "circuit breaker is open").
			WithContext("breaker", cb.name)
	}

	start := cb.now()
	err := fn(ctx)
	duration := cb.now().Sub(start)

	if err != nil {
		failures := cb.recordFailure()
		cb.logger.LogWarn(err, "Circuit breaker failure recorded", logrus.Fields{
			"breaker":        cb.name,
			LogFieldDuration: duration.Milliseconds(),
			"failures":       failures,
		})
		return err
	}

	cb.recordSuccess()
	cb.logger.WithFields(logrus.Fields{
		"breaker":        cb.name,
		LogFieldDuration: duration.Milliseconds(),
	}).Debug("Circuit breaker success recorded")
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
			cb.logger.WithField("breaker", cb.name).Info("Circuit breaker transitioning to half-open")
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.halfOpenMaxCalls
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.requestCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"breaker":      cb.name,
				"failures":     cb.failures,
				"max_failures": cb.maxFailures,
			}).Warn("Circuit breaker opened due to failures")
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.WithField("breaker", cb.name).Warn("Circuit breaker reopened from half-open state")
	}
	return cb.failures
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.requestCount++

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenCalls++
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithField("breaker", cb.name).Info("Circuit breaker closed after successful half-open tests")
		}
	case StateClosed:
		cb.failures = 0
	}
}

// GetState returns the current circuit breaker state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerStats is a point-in-time view of a breaker.
type BreakerStats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    uint32    `json:"failures"`
	Successes   uint32    `json:"successes"`
	Requests    uint32    `json:"requests"`
	LastFailure time.Time `json:"lastFailure,omitempty"`
}

func (cb *CircuitBreaker) GetStats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Name:        cb.name,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successCount,
		Requests:    cb.requestCount,
		LastFailure: cb.lastFailureTime,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.successCount = 0
	cb.requestCount = 0

	cb.logger.WithField("breaker", cb.name).Info("Circuit breaker manually reset")
}
