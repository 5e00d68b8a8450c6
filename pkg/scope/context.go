// Package scope implements the security context that scopes every data
// operation to a tenant, and the executor that guarantees its lifecycle.
//
// A Context carries five dimensions: tenant, sub-organization, location,
// role, and user. It is stamped into Postgres session settings so installed
// row policies can read it, and carried as an explicit value through the
// call chain so Go code never depends on ambient global state.
//
// The single most important invariant in this package: a pooled connection
// is never released with context still set. Executor.RunInContext enforces
// that structurally; callers cannot forget the teardown.
package scope

import (
	"context"
	"database/sql"

	"github.com/lattice-hq/lattice/pkg/contextkeys"
)

// Context is the five-dimensional security context for one unit of work.
// An empty string means the dimension is unset. Unset dimensions deny access
// on tables whose policy enforces them, unless the table's policy explicitly
// marks the dimension as nullable-permits-all.
type Context struct {
	TenantID   string `json:"tenant_id,omitempty"`
	SubOrgID   string `json:"sub_org_id,omitempty"`
	LocationID string `json:"location_id,omitempty"`
	UserRole   string `json:"user_role,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// IsZero reports whether no dimension is set
func (c Context) IsZero() bool {
	return c == Context{}
}

// HasTenant reports whether the mandatory tenant dimension is set
func (c Context) HasTenant() bool {
	return c.TenantID != ""
}

// Into attaches the security context to a context.Context
func Into(ctx context.Context, sc Context) context.Context {
	return contextkeys.WithScope(ctx, sc)
}

// From extracts the security context from a context.Context
func From(ctx context.Context) (Context, bool) {
	sc, ok := ctx.Value(contextkeys.ScopeKey).(Context)
	return sc, ok
}

// TxInto attaches the scoped transaction to a context.Context
func TxInto(ctx context.Context, tx *sql.Tx) context.Context {
	return contextkeys.WithTx(ctx, tx)
}

// TxFrom extracts the scoped transaction from a context.Context
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(contextkeys.TxKey).(*sql.Tx)
	return tx, ok
}
