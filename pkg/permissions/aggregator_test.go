package permissions

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

	"github.com/lattice-hq/lattice/pkg/events"
	"github.com/lattice-hq/lattice/pkg/observability"
)

var roleRecordColumns = []string{
	"role_id", "tenant_id", "name", "priority",
	"permissions", "restrictions", "is_system_role", "is_default",
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newTestAggregator(t *testing.T) (*Aggregator, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewStore(db, testLogger())
	aggregator := NewAggregator(store, DefaultRegistry(), events.NoopPublisher{}, testLogger(), nil, 128, time.Minute)
	return aggregator, mock, db
}

func roleRow(id, name string, priority int, permissionsJSON, restrictionsJSON string) []driver.Value {
	return []driver.Value{id, "tenant-1", name, priority, []byte(permissionsJSON), []byte(restrictionsJSON), false, false}
}

func expectRoleRecords(mock sqlmock.Sqlmock, userID string, records ...[]driver.Value) {
	rows := sqlmock.NewRows(roleRecordColumns)
	for _, record := range records {
		rows.AddRow(record...)
	}
	mock.ExpectQuery("SELECT (.+) FROM role_assignments").
		WithArgs(userID, "tenant-1").
		WillReturnRows(rows)
}

// A lower-priority role granting a single operation and a higher-priority
// role granting the module wildcard combine into the full expanded set:
// the wildcard overwrites the narrower grant on the shared key.
func TestPriorityMergeWithWildcard(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-1",
		roleRow("r1", "reader", 1, `{"crm":{"leads":{"operations":["read"]}}}`, `{}`),
		roleRow("r2", "lead-manager", 2, `{"crm":{"leads":{"operations":["*"]}}}`, `{}`),
	)

	effective, err := aggregator.GetEffectivePermissions(context.Background(), "user-1", "tenant-1")
	require.NoError(t, err)

	flat := aggregator.Flatten(effective.Permissions)
	assert.Equal(t, []string{
		"crm.leads.create",
		"crm.leads.delete",
		"crm.leads.read",
		"crm.leads.update",
	}, flat)
	assert.Equal(t, []string{"reader", "lead-manager"}, effective.Roles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHigherPriorityOverwritesConflicts(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	// Both roles grant on crm.contacts; the priority-5 grant is applied
	// last and wins the key outright.
	expectRoleRecords(mock, "user-2",
		roleRow("r1", "broad", 1, `{"crm":{"contacts":{"operations":["read","create","update","delete","export"]}}}`, `{}`),
		roleRow("r2", "narrow", 5, `{"crm":{"contacts":{"operations":["read"]}}}`, `{}`),
	)

	effective, err := aggregator.GetEffectivePermissions(context.Background(), "user-2", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"crm.contacts.read"}, aggregator.Flatten(effective.Permissions))
	require.NoError(t, mock.ExpectationsWereMet())
}

// One malformed role must not abort aggregation; the well-formed role's
// permissions still come through.
func TestCorruptRoleIsolation(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-3",
		roleRow("r1", "broken", 1, `{not json`, `{}`),
		roleRow("r2", "viewer", 2, `{"billing":{"invoices":{"operations":["read"]}}}`, `{}`),
	)

	effective, err := aggregator.GetEffectivePermissions(context.Background(), "user-3", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing.invoices.read"}, aggregator.Flatten(effective.Permissions))
	assert.Equal(t, []string{"viewer"}, effective.Roles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestrictionsMergeConservatively(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-4",
		roleRow("r1", "a", 1, `{}`, `{"max_records_per_query":1000,"allow_export":true}`),
		roleRow("r2", "b", 2, `{}`, `{"max_records_per_query":100,"allow_export":false}`),
	)

	effective, err := aggregator.GetEffectivePermissions(context.Background(), "user-4", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 100, effective.Restrictions.MaxRecordsPerQuery, "smaller limit wins")
	require.NotNil(t, effective.Restrictions.AllowExport)
	assert.False(t, *effective.Restrictions.AllowExport, "booleans AND together")
	require.NoError(t, mock.ExpectationsWereMet())
}

// A grant with no operations array contributes nothing, and a wildcard on
// an unregistered module expands to nothing.
func TestFlattenFailsClosed(t *testing.T) {
	aggregator, _, db := newTestAggregator(t)
	defer db.Close()

	assert.Empty(t, aggregator.Flatten(PermissionSet{
		"crm": {"leads": Grant{}},
	}))
	assert.Empty(t, aggregator.Flatten(PermissionSet{
		"crm": {"unknown_module": Grant{Operations: []string{"*"}}},
	}))
	assert.Empty(t, aggregator.Flatten(PermissionSet{
		"unknown_app": {"*": Grant{Operations: []string{"*"}}},
	}))
}

func TestModuleWildcardExpansion(t *testing.T) {
	aggregator, _, db := newTestAggregator(t)
	defer db.Close()

	flat := aggregator.Flatten(PermissionSet{
		"billing": {"*": Grant{Operations: []string{"read"}}},
	})
	assert.Equal(t, []string{"billing.invoices.read", "billing.payments.read"}, flat)
}

func TestHasPermissionQueries(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-5",
		roleRow("r1", "viewer", 1, `{"crm":{"leads":{"operations":["read"]}}}`, `{}`),
	)

	ctx := context.Background()

	granted, err := aggregator.HasPermission(ctx, "user-5", "tenant-1", "crm.leads.read")
	require.NoError(t, err)
	assert.True(t, granted)

	// Subsequent queries hit the cache; no further DB expectations needed.
	granted, err = aggregator.HasPermission(ctx, "user-5", "tenant-1", "crm.leads.delete")
	require.NoError(t, err)
	assert.False(t, granted)

	any, err := aggregator.HasAny(ctx, "user-5", "tenant-1", "crm.leads.delete", "crm.leads.read")
	require.NoError(t, err)
	assert.True(t, any)

	all, err := aggregator.HasAll(ctx, "user-5", "tenant-1", "crm.leads.read", "crm.leads.delete")
	require.NoError(t, err)
	assert.False(t, all)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessibleApplications(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-6",
		roleRow("r1", "mixed", 1, `{"crm":{"leads":{"operations":["read"]}},"hr":{"employees":{"operations":["read"]}}}`, `{}`),
	)

	apps, err := aggregator.AccessibleApplications(context.Background(), "user-6", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"crm", "hr"}, apps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-7",
		roleRow("r1", "viewer", 1, `{"crm":{"leads":{"operations":["read"]}}}`, `{}`),
	)

	ctx := context.Background()
	_, err := aggregator.GetEffectivePermissions(ctx, "user-7", "tenant-1")
	require.NoError(t, err)

	aggregator.Invalidate(ctx, "user-7", "tenant-1")

	// Next lookup reloads from the store.
	expectRoleRecords(mock, "user-7",
		roleRow("r1", "viewer", 1, `{"crm":{"leads":{"operations":["read","create"]}}}`, `{}`),
	)
	effective, err := aggregator.GetEffectivePermissions(ctx, "user-7", "tenant-1")
	require.NoError(t, err)
	assert.Contains(t, aggregator.Flatten(effective.Permissions), "crm.leads.create")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleInvalidation(t *testing.T) {
	aggregator, mock, db := newTestAggregator(t)
	defer db.Close()

	expectRoleRecords(mock, "user-8",
		roleRow("r1", "viewer", 1, `{"crm":{"leads":{"operations":["read"]}}}`, `{}`),
	)

	ctx := context.Background()
	_, err := aggregator.GetEffectivePermissions(ctx, "user-8", "tenant-1")
	require.NoError(t, err)

	aggregator.HandleInvalidation(events.Event{
		Type:     events.TypePermissionsChanged,
		TenantID: "tenant-1",
		UserID:   "user-8",
	})

	expectRoleRecords(mock, "user-8")
	effective, err := aggregator.GetEffectivePermissions(ctx, "user-8", "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, aggregator.Flatten(effective.Permissions))
	require.NoError(t, mock.ExpectationsWereMet())
}
