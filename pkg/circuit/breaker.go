// Package circuit provides circuit breaker pattern implementation for handling failures gracefully.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed indicates the circuit breaker is closed and requests are allowed through.
	StateClosed State = iota
	// StateOpen indicates the circuit breaker is open and requests are rejected.
	StateOpen
	// StateHalfOpen indicates the circuit breaker is half-open and testing if requests should be allowed.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// Default thresholds applied by NewBreaker when the corresponding
// Config field is zero.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a trial call.
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`

	// HalfOpenMaxCalls bounds the number of trial calls permitted while
	// half-open.
	HalfOpenMaxCalls int `mapstructure:"half_open_max_calls" yaml:"half_open_max_calls"`
}

// Status is a point-in-time snapshot of the breaker, safe to hand to
// external observers.
type Status struct {
	State                string   `json:"state"`
	FailureCount         int      `json:"failure_count"`
	SuccessCount         int      `json:"success_count"`
	FailureThreshold     int      `json:"failure_threshold"`
	RecoveryTimeout      float64  `json:"recovery_timeout_seconds"`
	TimeSinceLastFailure *float64 `json:"time_since_last_failure,omitempty"`
}

// Breaker implements the circuit breaker pattern. It never returns errors
// and never panics; every decision is a boolean plus a human-readable
// reason.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// NewBreaker creates a breaker in the closed state, filling in defaults
// for any zero Config field.
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}

	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}

	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}

	return &Breaker{
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// CanExecute reports whether a call attempt should be made right now.
// The only state mutation it performs is the open to half-open transition
// once the recovery timeout has elapsed; incrementing the half-open trial
// count is the caller's job (via MarkHalfOpenCall) so the check itself
// stays side-effect free under concurrent callers.
func (b *Breaker) CanExecute() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, ""

	case StateOpen:
		elapsed := time.Since(b.lastFailureTime)
		if elapsed >= b.cfg.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)

			return true, ""
		}

		remaining := b.cfg.RecoveryTimeout - elapsed

		return false, fmt.Sprintf("circuit open, retry in %.0fs", remaining.Seconds())

	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			return true, ""
		}

		return false, "circuit half-open, waiting for trial result"
	}

	return true, ""
}

// MarkHalfOpenCall consumes one half-open trial slot. Callers invoke it
// immediately after CanExecute allows an attempt while half-open.
func (b *Breaker) MarkHalfOpenCall() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenCalls++
	}
}

// RecordSuccess records a successful call. A success while half-open
// closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++

	switch b.state {
	case StateHalfOpen:
		b.transitionTo(StateClosed)
	case StateClosed:
		b.failureCount = 0
	case StateOpen:
	}
}

// RecordFailure records a failed call. Enough consecutive failures while
// closed trip the breaker; any failure while half-open reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateOpen:
	}
}

// transitionTo changes state and applies the per-state counter resets.
// Callers must hold the mutex.
func (b *Breaker) transitionTo(state State) {
	b.state = state
	b.lastStateChange = time.Now()

	switch state {
	case StateClosed:
		b.failureCount = 0
		b.halfOpenCalls = 0
	case StateHalfOpen:
		b.halfOpenCalls = 0
	case StateOpen:
	}
}

// Reset forces the breaker back to closed with all counters zeroed. A
// session calls this whenever it achieves a brand-new physical
// connection: a fresh socket deserves a fresh failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
	b.lastStateChange = time.Now()
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// GetStateFloat returns the state as a float64 for metrics.
func (b *Breaker) GetStateFloat() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return float64(b.state)
}

// GetStatus returns a snapshot of the breaker for observability. The
// TimeSinceLastFailure field is nil when no failure has been recorded.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{
		State:            b.state.String(),
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout.Seconds(),
	}

	if !b.lastFailureTime.IsZero() {
		since := time.Since(b.lastFailureTime).Seconds()
		status.TimeSinceLastFailure = &since
	}

	return status
}
