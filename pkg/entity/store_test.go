package entity

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/pkg/observability"
)

var entityTestColumns = []string{
	"entity_id", "tenant_id", "entity_type", "name", "parent_entity_id",
	"level", "hierarchy_path", "is_active", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewStore(db, observability.NewLogger(observability.ErrorLevel, io.Discard), nil)
	return store, mock, db
}

func entityRow(id, tenantID string, entityType Type, parentID driver.Value, level int, path string, active bool) []driver.Value {
	now := time.Now()
	return []driver.Value{id, tenantID, string(entityType), id, parentID, level, path, active, now, now}
}

func addEntityRows(rows *sqlmock.Rows, entities ...[]driver.Value) *sqlmock.Rows {
	for _, e := range entities {
		rows.AddRow(e...)
	}
	return rows
}

func TestCreateEntity(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a root with empty path", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO entities").
			WillReturnResult(sqlmock.NewResult(0, 1))

		e, err := store.CreateEntity(ctx, "tenant-1", TypeOrganization, "Acme", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "tenant-1", e.TenantID)
		assert.Equal(t, 0, e.Level)
		assert.Empty(t, e.Path)
		assert.True(t, e.IsActive)
		assert.True(t, e.IsRoot())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inherits path and level from the parent", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		rows := addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("parent-1", "tenant-1", TypeOrganization, nil, 0, "{}", true))
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("parent-1").
			WillReturnRows(rows)
		mock.ExpectExec("INSERT INTO entities").
			WillReturnResult(sqlmock.NewResult(0, 1))

		e, err := store.CreateEntity(ctx, "tenant-1", TypeLocation, "HQ", strPtr("parent-1"))
		require.NoError(t, err)
		assert.Equal(t, 1, e.Level)
		assert.Equal(t, []string{"parent-1"}, e.Path)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a parent from another tenant", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		rows := addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("parent-1", "tenant-other", TypeOrganization, nil, 0, "{}", true))
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("parent-1").
			WillReturnRows(rows)

		_, err := store.CreateEntity(ctx, "tenant-1", TypeLocation, "HQ", strPtr("parent-1"))
		assert.ErrorIs(t, err, ErrInvalidParent)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects an inactive parent", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		rows := addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("parent-1", "tenant-1", TypeOrganization, nil, 0, "{}", false))
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("parent-1").
			WillReturnRows(rows)

		_, err := store.CreateEntity(ctx, "tenant-1", TypeLocation, "HQ", strPtr("parent-1"))
		assert.ErrorIs(t, err, ErrInvalidParent)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a missing parent", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("parent-1").
			WillReturnRows(sqlmock.NewRows(entityTestColumns))

		_, err := store.CreateEntity(ctx, "tenant-1", TypeLocation, "HQ", strPtr("parent-1"))
		assert.ErrorIs(t, err, ErrInvalidParent)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMoveEntity(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses to move an entity under its own descendant", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("a").
			WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
				entityRow("a", "tenant-1", TypeOrganization, nil, 0, "{}", true)))
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("c").
			WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
				entityRow("c", "tenant-1", TypeDepartment, "b", 2, "{a,b}", true)))
		mock.ExpectRollback()

		err := store.MoveEntity(ctx, "a", strPtr("c"))
		assert.ErrorIs(t, err, ErrCycleDetected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("promotes to root and rewrites the subtree", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("b").
			WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
				entityRow("b", "tenant-1", TypeLocation, "a", 1, "{a}", true)))
		mock.ExpectQuery(`tenant_id = \$1 AND \$2 = ANY\(hierarchy_path\)`).
			WithArgs("tenant-1", "b").
			WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
				entityRow("c", "tenant-1", TypeDepartment, "b", 2, "{a,b}", true)))
		mock.ExpectExec("UPDATE entities").
			WithArgs(nil, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), "b").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE entities").
			WithArgs("b", 1, sqlmock.AnyArg(), sqlmock.AnyArg(), "c").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.MoveEntity(ctx, "b", nil))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a new parent from another tenant", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("b").
			WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
				entityRow("b", "tenant-1", TypeLocation, "a", 1, "{a}", true)))
		mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
			WithArgs("x").
			WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
				entityRow("x", "tenant-other", TypeOrganization, nil, 0, "{}", true)))
		mock.ExpectRollback()

		err := store.MoveEntity(ctx, "b", strPtr("x"))
		assert.ErrorIs(t, err, ErrInvalidParent)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAncestorsOf(t *testing.T) {
	ctx := context.Background()

	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
		WithArgs("c").
		WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("c", "tenant-1", TypeDepartment, "b", 2, "{a,b}", true)))
	mock.ExpectQuery(`entity_id = ANY\(\$1\)`).
		WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("a", "tenant-1", TypeOrganization, nil, 0, "{}", true),
			entityRow("b", "tenant-1", TypeLocation, "a", 1, "{a}", true)))

	ancestors, err := store.AncestorsOf(ctx, "c")
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, "a", ancestors[0].ID, "root comes first")
	assert.Equal(t, "b", ancestors[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAncestorsOfRoot(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
		WithArgs("a").
		WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("a", "tenant-1", TypeOrganization, nil, 0, "{}", true)))

	ancestors, err := store.AncestorsOf(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, ancestors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDescendantsOfExcludesInactiveByDefault(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM entities WHERE entity_id").
		WithArgs("a").
		WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("a", "tenant-1", TypeOrganization, nil, 0, "{}", true)))
	mock.ExpectQuery(`AND \$2 = ANY\(hierarchy_path\)[\s]+AND is_active = TRUE`).
		WithArgs("tenant-1", "a").
		WillReturnRows(addEntityRows(sqlmock.NewRows(entityTestColumns),
			entityRow("b", "tenant-1", TypeLocation, "a", 1, "{a}", true),
			entityRow("c", "tenant-1", TypeDepartment, "b", 2, "{a,b}", true)))

	descendants, err := store.DescendantsOf(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, descendants, 2)
	assert.Equal(t, "b", descendants[0].ID)
	assert.Equal(t, "c", descendants[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivate(t *testing.T) {
	t.Run("marks the entity inactive", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec("UPDATE entities SET is_active = FALSE").
			WithArgs(sqlmock.AnyArg(), "a").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Deactivate(context.Background(), "a"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing entity yields not found", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec("UPDATE entities SET is_active = FALSE").
			WithArgs(sqlmock.AnyArg(), "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Deactivate(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
