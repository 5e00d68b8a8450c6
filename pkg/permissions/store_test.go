package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, testLogger())

	t.Run("tenant-wide assignment", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO role_assignments").
			WithArgs(sqlmock.AnyArg(), "user-1", "role-1", "tenant-1", nil, true, false, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assignment, err := store.AssignRole(context.Background(), "user-1", "role-1", "tenant-1", nil, nil)
		require.NoError(t, err)
		assert.False(t, assignment.IsTemporary)
		assert.Nil(t, assignment.EntityID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("temporary entity-scoped assignment", func(t *testing.T) {
		entityID := "entity-1"
		expires := time.Now().Add(time.Hour)

		mock.ExpectExec("INSERT INTO role_assignments").
			WithArgs(sqlmock.AnyArg(), "user-1", "role-1", "tenant-1", entityID, true, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assignment, err := store.AssignRole(context.Background(), "user-1", "role-1", "tenant-1", &entityID, &expires)
		require.NoError(t, err)
		assert.True(t, assignment.IsTemporary)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRevokeRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, testLogger())

	rows := sqlmock.NewRows([]string{
		"assignment_id", "user_id", "role_id", "tenant_id", "entity_id",
		"is_active", "is_temporary", "expires_at", "granted_at",
	}).AddRow("a1", "user-1", "role-1", "tenant-1", nil, false, false, nil, time.Now())
	mock.ExpectQuery("UPDATE role_assignments").
		WithArgs("a1").
		WillReturnRows(rows)

	revoked, err := store.RevokeRole(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", revoked.UserID)
	assert.False(t, revoked.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireTemporaryAssignments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, testLogger())

	expired := time.Now().Add(-time.Hour)
	rows := sqlmock.NewRows([]string{
		"assignment_id", "user_id", "role_id", "tenant_id", "entity_id",
		"is_active", "is_temporary", "expires_at", "granted_at",
	}).
		AddRow("a1", "user-1", "role-1", "tenant-1", nil, false, true, expired, time.Now().Add(-2*time.Hour)).
		AddRow("a2", "user-2", "role-1", "tenant-1", nil, false, true, expired, time.Now().Add(-2*time.Hour))
	mock.ExpectQuery("UPDATE role_assignments").
		WillReturnRows(rows)

	assignments, err := store.ExpireTemporaryAssignments(context.Background())
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, "user-1", assignments[0].UserID)
	assert.NotNil(t, assignments[0].ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
