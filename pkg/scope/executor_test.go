package scope

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	executor := NewExecutor(db, NewManager(testLogger()), testLogger(), nil)
	return executor, mock, db
}

func expectSet(mock sqlmock.Sqlmock, sc Context) {
	mock.ExpectExec(regexp.QuoteMeta(setContextSQL)).
		WithArgs(sc.TenantID, sc.SubOrgID, sc.LocationID, sc.UserRole, sc.UserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectClear(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta(clearContextSQL)).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRunInContext(t *testing.T) {
	sc := Context{TenantID: "tenant-1", UserRole: "manager", UserID: "user-4"}

	t.Run("commits on success and clears before release", func(t *testing.T) {
		executor, mock, db := newTestExecutor(t)
		defer db.Close()

		mock.ExpectBegin()
		expectSet(mock, sc)
		mock.ExpectExec("UPDATE widgets").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectClear(mock)

		ran := false
		err := executor.RunInContext(context.Background(), sc, func(ctx context.Context, tx *sql.Tx) error {
			ran = true

			// The scope and transaction ride on the work context.
			got, ok := From(ctx)
			require.True(t, ok)
			assert.Equal(t, sc, got)
			ctxTx, ok := TxFrom(ctx)
			require.True(t, ok)
			assert.Same(t, tx, ctxTx)

			_, err := tx.ExecContext(ctx, "UPDATE widgets SET name = 'x'")
			return err
		})
		require.NoError(t, err)
		assert.True(t, ran)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error and still clears context", func(t *testing.T) {
		executor, mock, db := newTestExecutor(t)
		defer db.Close()

		mock.ExpectBegin()
		expectSet(mock, sc)
		mock.ExpectRollback()
		expectClear(mock)

		workErr := errors.New("unit of work failed")
		err := executor.RunInContext(context.Background(), sc, func(ctx context.Context, tx *sql.Tx) error {
			return workErr
		})
		assert.ErrorIs(t, err, workErr)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clears context even when the caller cancels mid-work", func(t *testing.T) {
		executor, mock, db := newTestExecutor(t)
		defer db.Close()

		mock.ExpectBegin()
		expectSet(mock, sc)
		mock.ExpectRollback()
		expectClear(mock)

		ctx, cancel := context.WithCancel(context.Background())
		err := executor.RunInContext(ctx, sc, func(ctx context.Context, tx *sql.Tx) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing tenant denies before acquiring a connection", func(t *testing.T) {
		executor, mock, db := newTestExecutor(t)
		defer db.Close()

		err := executor.RunInContext(context.Background(), Context{UserID: "user-4"}, func(ctx context.Context, tx *sql.Tx) error {
			t.Fatal("unit of work must not run without a tenant")
			return nil
		})
		assert.ErrorIs(t, err, ErrContextNotSet)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates panics after rolling back", func(t *testing.T) {
		executor, mock, db := newTestExecutor(t)
		defer db.Close()

		mock.ExpectBegin()
		expectSet(mock, sc)
		mock.ExpectRollback()
		expectClear(mock)

		assert.Panics(t, func() {
			_ = executor.RunInContext(context.Background(), sc, func(ctx context.Context, tx *sql.Tx) error {
				panic("boom")
			})
		})
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// Two interleaved units of work on independent connections never observe
// each other's dimensions: each session only ever sees its own set_config
// arguments.
func TestRunInContextIsolation(t *testing.T) {
	scA := Context{TenantID: "tenant-a", UserID: "user-a"}
	scB := Context{TenantID: "tenant-b", UserID: "user-b"}

	executorA, mockA, dbA := newTestExecutor(t)
	defer dbA.Close()
	executorB, mockB, dbB := newTestExecutor(t)
	defer dbB.Close()

	for _, tc := range []struct {
		mock sqlmock.Sqlmock
		sc   Context
	}{{mockA, scA}, {mockB, scB}} {
		tc.mock.ExpectBegin()
		expectSet(tc.mock, tc.sc)
		tc.mock.ExpectCommit()
		expectClear(tc.mock)
	}

	// Workers signal on ready and park on release, so neither can consume
	// the other's handshake.
	var wg sync.WaitGroup
	ready := make(chan struct{})
	release := make(chan struct{})
	run := func(executor *Executor, sc Context) {
		defer wg.Done()
		err := executor.RunInContext(context.Background(), sc, func(ctx context.Context, tx *sql.Tx) error {
			// Hold both units open simultaneously before either commits.
			ready <- struct{}{}
			<-release
			got, _ := From(ctx)
			assert.Equal(t, sc, got)
			return nil
		})
		assert.NoError(t, err)
	}

	wg.Add(2)
	go run(executorA, scA)
	go run(executorB, scB)
	<-ready
	<-ready
	close(release)
	wg.Wait()

	require.NoError(t, mockA.ExpectationsWereMet())
	require.NoError(t, mockB.ExpectationsWereMet())
}
