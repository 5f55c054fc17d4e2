// Package circuitbreaker shields source APIs from repeated calls while
// they are failing. Distinct from backend backoff: backoff reacts to
// explicit rate-limit signals, the breaker reacts to consecutive failures
// of any kind and recovers through a half-open probe.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

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

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scour_circuit_breaker_state",
			Help: "Current breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	stateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scour_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// Config holds the breaker thresholds.
type Config struct {
	MaxRequests      uint32        // max probes in half-open
	Interval         time.Duration // counter reset interval while closed
	Timeout          time.Duration // open duration before half-open
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // half-open successes that close it
}

// DefaultConfig suits a source HTTP API.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts holds per-generation request statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker is one circuit breaker instance, typically one per source.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a breaker named for the thing it protects.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// Execute runs fn unless the breaker is open. The generation check means a
// slow call finishing after a state change cannot pollute the new
// generation's counts.
func (b *Breaker) Execute(_ context.Context, fn func() error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.afterRequest(generation, false)
			panic(r)
		}
	}()

	err = fn()
	b.afterRequest(generation, err == nil)
	return err
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns the current generation's statistics.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return generation, ErrTooManyRequests
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		if b.counts.ConsecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.newGeneration(now)

	stateChanges.WithLabelValues(b.name, prev.String(), state.String()).Inc()
	stateGauge.WithLabelValues(b.name).Set(float64(state))
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}

	switch b.state {
	case StateClosed:
		if b.config.Interval == 0 {
			b.expiry = time.Time{}
		} else {
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	default:
		b.expiry = time.Time{}
	}
}
