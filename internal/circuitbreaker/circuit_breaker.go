// Package circuitbreaker guards calls to external provider endpoints. After
// repeated failures the breaker opens and sheds calls until a cooldown
// elapses, then probes the endpoint through a half-open window.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the breaker is shedding calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker.
type Config struct {
	Name             string
	MaxFailures      int           // Consecutive failures before opening
	Cooldown         time.Duration // Time to wait before attempting half-open
	HalfOpenMaxCalls int           // Successes required in half-open to close
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// CircuitBreaker tracks consecutive failures against one endpoint.
type CircuitBreaker struct {
	cfg    Config
	logger zerolog.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenInFlight int
	halfOpenSuccess  int
	lastStateChange  time.Time
}

// New creates a circuit breaker in the closed state.
func New(cfg Config, logger zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:             cfg,
		logger:          logger.With().Str("breaker", cfg.Name).Logger(),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection. When the breaker is open the call
// is rejected with ErrOpen and fn is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastStateChange) < cb.cfg.Cooldown {
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenInFlight = 1
		cb.halfOpenSuccess = 0
		cb.logger.Info().Msg("circuit breaker probing endpoint")
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			return ErrOpen
		}
		cb.halfOpenInFlight++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.consecutiveFails++
		switch cb.state {
		case StateClosed:
			if cb.consecutiveFails >= cb.cfg.MaxFailures {
				cb.setState(StateOpen)
				cb.logger.Warn().
					Int("consecutive_failures", cb.consecutiveFails).
					Msg("circuit breaker opened")
			}
		case StateHalfOpen:
			// Any failure while probing reopens the breaker.
			cb.setState(StateOpen)
			cb.logger.Warn().Msg("circuit breaker reopened after failed probe")
		}
		return
	}

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.cfg.HalfOpenMaxCalls {
			cb.setState(StateClosed)
			cb.logger.Info().Msg("circuit breaker closed after recovery")
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
	if state != StateHalfOpen {
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccess = 0
	}
}

// Manager hands out one breaker per endpoint name.
type Manager struct {
	logger   zerolog.Logger
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewManager creates an empty Manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it with defaults if needed.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := New(DefaultConfig(name), m.logger)
	m.breakers[name] = cb
	return cb
}

// States returns a snapshot of every breaker's state, keyed by name.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.State()
	}
	return out
}
