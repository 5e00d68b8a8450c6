package scope

import (
	"context"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestSetContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	manager := NewManager(testLogger())

	t.Run("stamps all five dimensions in one round trip", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(setContextSQL)).
			WithArgs("tenant-1", "org-2", "loc-3", "manager", "user-4").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := manager.SetContext(context.Background(), db, Context{
			TenantID:   "tenant-1",
			SubOrgID:   "org-2",
			LocationID: "loc-3",
			UserRole:   "manager",
			UserID:     "user-4",
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unspecified dimensions are explicitly cleared, not left stale", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(setContextSQL)).
			WithArgs("tenant-1", "", "", "", "").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := manager.SetContext(context.Background(), db, Context{TenantID: "tenant-1"})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing tenant is denied before touching the session", func(t *testing.T) {
		err := manager.SetContext(context.Background(), db, Context{UserID: "user-4"})
		assert.ErrorIs(t, err, ErrContextNotSet)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClearContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	manager := NewManager(testLogger())

	mock.ExpectExec(regexp.QuoteMeta(clearContextSQL)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, manager.ClearContext(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	manager := NewManager(testLogger())

	rows := sqlmock.NewRows([]string{"tenant", "sub_org", "location", "role", "user"}).
		AddRow("tenant-1", "", "loc-3", "admin", "user-4")
	mock.ExpectQuery(regexp.QuoteMeta(readContextSQL)).WillReturnRows(rows)

	sc, err := manager.ReadContext(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, Context{
		TenantID:   "tenant-1",
		LocationID: "loc-3",
		UserRole:   "admin",
		UserID:     "user-4",
	}, sc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextCarriage(t *testing.T) {
	sc := Context{TenantID: "tenant-1", UserID: "user-4"}
	ctx := Into(context.Background(), sc)

	got, ok := From(ctx)
	require.True(t, ok)
	assert.Equal(t, sc, got)

	_, ok = From(context.Background())
	assert.False(t, ok)
}
