package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewRecorder(db, db, testLogger())

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "user-1", "role.granted", "assignment-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recorder.Record(context.Background(), Entry{
		TenantID: "tenant-1",
		ActorID:  "user-1",
		Action:   ActionRoleGranted,
		TargetID: "assignment-1",
		Detail:   map[string]interface{}{"role_id": "role-1"},
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewRecorder(db, db, testLogger())

	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnError(errors.New("table missing"))

	// Must not panic or propagate; auditing never fails the audited
	// operation.
	recorder.Record(context.Background(), Entry{
		TenantID: "tenant-1",
		Action:   ActionAccessDenied,
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recorder := NewRecorder(db, db, testLogger())

	now := time.Now()
	rows := sqlmock.NewRows([]string{"entry_id", "tenant_id", "actor_id", "action", "target_id", "detail", "created_at"}).
		AddRow("e2", "tenant-1", "user-1", "role.revoked", "a2", []byte(`{"role_id":"r1"}`), now).
		AddRow("e1", "tenant-1", "user-1", "role.granted", "a1", []byte(`{}`), now.Add(-time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM audit_entries").
		WithArgs("tenant-1", 50).
		WillReturnRows(rows)

	entries, err := recorder.List(context.Background(), "tenant-1", 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionRoleRevoked, entries[0].Action)
	assert.Equal(t, "r1", entries[0].Detail["role_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}
