package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// DefaultHalfOpenMaxCalls is the number of probe calls allowed after the open timeout
const DefaultHalfOpenMaxCalls = 1

// CircuitBreaker stops calling a failing dependency for a cool-down period.
// It opens after maxFailures consecutive failures, lets probe calls through
// once timeout has elapsed, and closes again when the probes succeed.
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	timeout          time.Duration
	halfOpenMaxCalls uint32

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32
	rejectedCount   uint32

	now    func() time.Time
	logger *logrus.Logger
}

// Option customises a CircuitBreaker
type Option func(*CircuitBreaker)

// WithLogger sets the logger used for state transitions
func WithLogger(logger *logrus.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = logger }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithHalfOpenMaxCalls sets how many probe calls must succeed before closing
func WithHalfOpenMaxCalls(n uint32) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenMaxCalls = n
		}
	}
}

// New creates a new circuit breaker
func New(name string, maxFailures uint32, timeout time.Duration, opts ...Option) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		state:            StateClosed,
		now:              time.Now,
		logger:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn if the breaker allows it and records the outcome.
// Context cancellation is not counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return &CircuitBreakerError{Name: cb.name, State: StateOpen}
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.onSuccess()
	case stderrors.Is(err, context.Canceled):
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

// allowRequest admits a call, moving an expired open breaker to half-open
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		cb.requestCount++
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.halfOpenMaxCalls {
			cb.halfOpenCalls++
			cb.requestCount++
			return true
		}
	}
	cb.rejectedCount++
	return false
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
		cb.successCount++
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// release gives back a half-open probe slot without judging the dependency
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.halfOpenCalls = 0
	cb.successCount = 0
	if to == StateClosed {
		cb.failures = 0
	}

	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"state":           to.String(),
	})
	if to == StateOpen {
		entry.WithField("failures", cb.failures).Warn("Circuit breaker opened")
		return
	}
	entry.Info("Circuit breaker state changed")
}

// GetState returns the current state, accounting for an elapsed open timeout
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Rejected:        cb.rejectedCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint32
	Rejected        uint32
	Successes       uint32
	LastFailureTime time.Time
}

// CircuitBreakerError is returned when a call is rejected without running
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return stderrors.As(err, &cbErr)
}

// Group lazily creates one breaker per key, such as a push service origin
type Group struct {
	maxFailures uint32
	timeout     time.Duration
	opts        []Option

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates a breaker group sharing one configuration
func NewGroup(maxFailures uint32, timeout time.Duration, opts ...Option) *Group {
	return &Group{
		maxFailures: maxFailures,
		timeout:     timeout,
		opts:        opts,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[key]
	if !ok {
		cb = New(key, g.maxFailures, g.timeout, g.opts...)
		g.breakers[key] = cb
	}
	return cb
}

// Execute runs fn through the breaker for key
func (g *Group) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return g.Get(key).Execute(ctx, fn)
}

// Stats returns a snapshot of every breaker, ordered by name
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(g.breakers))
	for _, cb := range g.breakers {
		breakers = append(breakers, cb)
	}
	g.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.GetStats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
