// Package resilience wraps the circuit breaker used to guard the database
// and other remote dependencies.
package resilience

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowline/flowline/pkg/observability"
)

// CircuitBreakerConfig holds circuit breaker tuning.
type CircuitBreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig returns the settings used for database access:
// trip after 60% failures across at least 3 requests, stay open 30s.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  3,
	}
}

// NewCircuitBreaker builds a gobreaker instance from the config, logging
// state changes.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger observability.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})
}
