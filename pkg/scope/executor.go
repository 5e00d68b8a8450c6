package scope

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lattice-hq/lattice/pkg/observability"
)

// teardownTimeout bounds the context-clear statement on teardown. Teardown
// runs even when the caller's context is already cancelled, so it needs its
// own deadline.
const teardownTimeout = 5 * time.Second

// UnitOfWork is the function executed inside a scoped transaction. Queries
// issued through tx are filtered by the installed row policies according to
// the stamped context.
type UnitOfWork func(ctx context.Context, tx *sql.Tx) error

// Executor wraps a unit of work so that a dedicated connection is taken from
// the pool, a transaction is opened, the security context is stamped, the
// work runs, and on every exit path the context is cleared before the
// connection is released. Failure rolls back; success commits.
type Executor struct {
	db      *sql.DB
	manager *Manager
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewExecutor creates a scoped executor. metrics may be nil.
func NewExecutor(db *sql.DB, manager *Manager, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		db:      db,
		manager: manager,
		logger:  logger,
		metrics: metrics,
	}
}

// RunInContext establishes sc for one unit of work and executes fn inside a
// transaction. The tenant dimension is mandatory; a missing tenant denies
// before any work runs. fn receives a context carrying sc and the open
// transaction, so code further down the chain can recover both without any
// global state.
func (e *Executor) RunInContext(ctx context.Context, sc Context, fn UnitOfWork) error {
	if !sc.HasTenant() {
		return ErrContextNotSet
	}

	start := time.Now()
	outcome := "commit"
	err := e.run(ctx, sc, fn)
	if err != nil {
		outcome = "rollback"
	}
	if e.metrics != nil {
		e.metrics.ScopedUnitsTotal.WithLabelValues(outcome).Inc()
		e.metrics.ScopedUnitDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	return err
}

func (e *Executor) run(ctx context.Context, sc Context, fn UnitOfWork) (err error) {
	// A dedicated connection: concurrent units of work must never share a
	// session, or they would observe each other's dimensions.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}

	defer func() {
		// Clear context, then release. This ordering is the correctness
		// property the whole engine hangs on: a connection returned to the
		// pool with context still set leaks tenant data into whichever
		// unrelated request picks it up next. Teardown uses its own deadline
		// so cancellation of the caller's context cannot skip it.
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()

		if clearErr := e.manager.ClearContext(clearCtx, conn); clearErr != nil {
			e.logger.WithError(clearErr).Error("failed to clear session context, discarding connection")
			if e.metrics != nil {
				e.metrics.ScopeTeardownErrors.Inc()
			}
			// Poison the connection so the pool discards it instead of
			// handing residual context to the next request.
			_ = conn.Raw(func(driverConn interface{}) error {
				return driver.ErrBadConn
			})
		}
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to release connection: %w", closeErr)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := e.manager.SetContext(ctx, tx, sc); err != nil {
		_ = tx.Rollback()
		return err
	}

	workCtx := TxInto(Into(ctx, sc), tx)
	if err := fn(workCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			e.logger.WithError(rbErr).Error("rollback failed after unit of work error")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
