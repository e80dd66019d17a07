// Package postgres implements the repository ports on PostgreSQL with sqlx.
// Writes that record a state transition commit the record change and its log
// events in one transaction.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/flowline/flowline/pkg/observability"
	"github.com/flowline/flowline/pkg/repository"
	"github.com/flowline/flowline/pkg/resilience"
)

// BaseRepositoryConfig tunes query behavior shared by all repositories.
type BaseRepositoryConfig struct {
	QueryTimeout time.Duration
	MaxRetries   uint64
}

// DefaultBaseRepositoryConfig returns the settings used in production.
func DefaultBaseRepositoryConfig() BaseRepositoryConfig {
	return BaseRepositoryConfig{
		QueryTimeout: 30 * time.Second,
		MaxRetries:   3,
	}
}

// BaseRepository carries the database handle and the resilience machinery
// common to the concrete repositories: per-query timeout, bounded
// exponential-backoff retry for transient database errors, and a circuit
// breaker so a down database fails fast instead of piling up goroutines.
type BaseRepository struct {
	db      *sqlx.DB
	logger  observability.Logger
	tracer  observability.StartSpanFunc
	breaker *gobreaker.CircuitBreaker
	config  BaseRepositoryConfig
}

// NewBaseRepository creates a BaseRepository.
func NewBaseRepository(db *sqlx.DB, logger observability.Logger, tracer observability.StartSpanFunc, name string, config BaseRepositoryConfig) *BaseRepository {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if tracer == nil {
		tracer = observability.NoopStartSpan
	}
	return &BaseRepository{
		db:      db,
		logger:  logger,
		tracer:  tracer,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(name), logger),
		config:  config,
	}
}

// ExecuteQueryWithRetry runs fn under the query timeout, retrying transient
// database errors with exponential backoff behind the circuit breaker.
// Domain errors (not found, duplicate, immutability) are never retried.
func (r *BaseRepository) ExecuteQueryWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
	defer cancel()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.config.MaxRetries), queryCtx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, fn(queryCtx)
		})
		if err == nil {
			return nil
		}
		if !isRetryableDBError(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("Retrying database operation", map[string]interface{}{
			"operation": operation,
			"attempt":   attempt,
			"error":     err.Error(),
		})
		return err
	}, policy)
}

// TranslateError maps driver errors onto the repository sentinel errors.
func (r *BaseRepository) TranslateError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return repository.ErrDuplicate
		case "23503": // foreign_key_violation
			return errors.Wrapf(repository.ErrNotFound, "%s references a missing row", entity)
		}
	}
	return errors.Wrapf(err, "%s query failed", entity)
}

// isRetryableDBError reports whether the error is worth another attempt:
// connection problems, serialization failures, and deadlocks. Anything the
// circuit breaker rejects is not retried here; backoff would just keep
// hitting an open breaker.
func isRetryableDBError(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		// Class 08 covers connection exceptions.
		if pqErr.Code.Class() == "08" {
			return true
		}
	}
	return false
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *BaseRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Warn("Transaction rollback failed", map[string]interface{}{
				"error": rbErr.Error(),
			})
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}
