package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// CircuitClosed lets every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the recovery timeout has elapsed.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

// CircuitBreaker opens after consecutive upstream failures so that a dead
// oracle fails fast and collaboration scoring falls back to the heuristic.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	probing          bool
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive settings use the defaults.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// ShouldAttempt reports whether a call would currently be let through. It does not change state.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		return cb.now().Sub(cb.openedAt) >= cb.recoveryTimeout
	case CircuitHalfOpen:
		return !cb.probing
	default:
		return true
	}
}

// acquire admits a call, moving an expired open circuit to half-open.
func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.recoveryTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		slog.Info("circuit breaker half-open, probing", slog.String("breaker", cb.name))
		return true
	default:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		slog.Info("circuit breaker closed after successful recovery", slog.String("breaker", cb.name))
	}
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.probing = false
}

// RecordFailure counts a failure; reaching the threshold, or failing the probe, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.probing = false
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		if cb.state != CircuitOpen {
			slog.Warn("circuit breaker opened",
				slog.String("breaker", cb.name),
				slog.Int("failure_count", cb.failureCount),
				slog.Int("threshold", cb.failureThreshold))
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// release gives back a half-open probe slot whose outcome was not recorded.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerOracle guards an oracle with a CircuitBreaker.
type BreakerOracle struct {
	base domain.Oracle
	cb   *CircuitBreaker
}

// NewBreakerOracle wraps base.
func NewBreakerOracle(base domain.Oracle, cb *CircuitBreaker) *BreakerOracle {
	return &BreakerOracle{base: base, cb: cb}
}

// Ready is false while the circuit rejects calls or the wrapped oracle is not ready.
func (b *BreakerOracle) Ready() bool {
	if rr, ok := b.base.(domain.ReadinessReporter); ok && !rr.Ready() {
		return false
	}
	return b.cb.ShouldAttempt()
}

// Complete forwards to the wrapped oracle unless the circuit is open. A
// malformed answer still proves the upstream is reachable; a cancelled caller
// proves nothing either way.
func (b *BreakerOracle) Complete(ctx domain.Context, req domain.OracleRequest) (string, error) {
	if !b.cb.acquire() {
		return "", fmt.Errorf("op=ai.BreakerOracle.Complete: circuit open: %w", domain.ErrOracleUnavailable)
	}
	out, err := b.base.Complete(ctx, req)
	switch {
	case err == nil, errors.Is(err, domain.ErrOracleMalformed):
		b.cb.RecordSuccess()
	case errors.Is(err, context.Canceled):
		b.cb.release()
	default:
		b.cb.RecordFailure()
	}
	return out, err
}
