package scope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lattice-hq/lattice/pkg/observability"
)

// ErrContextNotSet indicates a scoped operation ran without a required
// context dimension. Treated as an authorization failure: access is denied,
// nothing crashes.
var ErrContextNotSet = errors.New("scope: required context dimension not set")

// Session setting names read by compiled row policies via current_setting().
const (
	SettingTenantID   = "lattice.tenant_id"
	SettingSubOrgID   = "lattice.sub_org_id"
	SettingLocationID = "lattice.location_id"
	SettingUserRole   = "lattice.user_role"
	SettingUserID     = "lattice.user_id"
)

// setContextSQL stamps all five dimensions in one round trip. is_local=true
// scopes the settings to the current transaction, so commit or rollback
// bounds them even if teardown were ever skipped.
const setContextSQL = `SELECT set_config('` + SettingTenantID + `', $1, true),
       set_config('` + SettingSubOrgID + `', $2, true),
       set_config('` + SettingLocationID + `', $3, true),
       set_config('` + SettingUserRole + `', $4, true),
       set_config('` + SettingUserID + `', $5, true)`

// clearContextSQL resets all five dimensions at session level. Run on the
// dedicated connection before it is returned to the pool.
const clearContextSQL = `SELECT set_config('` + SettingTenantID + `', '', false),
       set_config('` + SettingSubOrgID + `', '', false),
       set_config('` + SettingLocationID + `', '', false),
       set_config('` + SettingUserRole + `', '', false),
       set_config('` + SettingUserID + `', '', false)`

// readContextSQL snapshots the dimensions currently visible to the session.
const readContextSQL = `SELECT coalesce(current_setting('` + SettingTenantID + `', true), ''),
       coalesce(current_setting('` + SettingSubOrgID + `', true), ''),
       coalesce(current_setting('` + SettingLocationID + `', true), ''),
       coalesce(current_setting('` + SettingUserRole + `', true), ''),
       coalesce(current_setting('` + SettingUserID + `', true), '')`

// Querier is the subset of *sql.Tx / *sql.Conn the manager needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Manager stamps, reads, and clears the security context on a database
// session. It never decides scoping policy; it only moves Context values
// between Go and the session settings the row policies read.
type Manager struct {
	logger *observability.Logger
}

// NewManager creates a session context manager
func NewManager(logger *observability.Logger) *Manager {
	return &Manager{logger: logger}
}

// SetContext atomically stamps all five dimensions for the current unit of
// work. Unspecified dimensions are explicitly cleared rather than left over
// from a previous occupant of the same pooled connection.
func (m *Manager) SetContext(ctx context.Context, q Querier, sc Context) error {
	if !sc.HasTenant() {
		return ErrContextNotSet
	}
	_, err := q.ExecContext(ctx, setContextSQL,
		sc.TenantID, sc.SubOrgID, sc.LocationID, sc.UserRole, sc.UserID)
	if err != nil {
		return fmt.Errorf("failed to set session context: %w", err)
	}
	return nil
}

// ClearContext resets all dimensions to unset. MUST run on every exit path
// of a scoped unit of work before the connection goes back to any pool.
func (m *Manager) ClearContext(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, clearContextSQL); err != nil {
		return fmt.Errorf("failed to clear session context: %w", err)
	}
	return nil
}

// ReadContext returns a read-only snapshot of the session's dimensions.
func (m *Manager) ReadContext(ctx context.Context, q Querier) (Context, error) {
	var sc Context
	err := q.QueryRowContext(ctx, readContextSQL).Scan(
		&sc.TenantID, &sc.SubOrgID, &sc.LocationID, &sc.UserRole, &sc.UserID)
	if err != nil {
		return Context{}, fmt.Errorf("failed to read session context: %w", err)
	}
	return sc, nil
}
