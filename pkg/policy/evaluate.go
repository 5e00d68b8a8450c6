package policy

import (
	"github.com/lattice-hq/lattice/pkg/scope"
)

// Row carries the policy-relevant columns of one record for in-process
// evaluation. Nil pointers and a nil role slice represent NULL column
// values.
type Row struct {
	TenantID      string
	SubOrgID      *string
	LocationID    *string
	RequiredRoles []string
	OwnerUserID   *string
}

// Evaluate reports whether the row is visible under the security context.
// It mirrors the compiled predicate exactly, including advisory clauses, so
// it serves both display filtering on advisory dimensions and verification
// of the enforced semantics without a database.
func (p *TablePolicy) Evaluate(sc scope.Context, row Row) bool {
	if sc.TenantID == "" || row.TenantID != sc.TenantID {
		return false
	}
	if p.SubOrg.Enabled && !matchDimension(row.SubOrgID, sc.SubOrgID, p.SubOrg) {
		return false
	}
	if p.Location.Enabled && !matchDimension(row.LocationID, sc.LocationID, p.Location) {
		return false
	}
	if p.Role.Enabled && !p.matchRole(sc.UserRole, row.RequiredRoles) {
		return false
	}
	if p.Ownership.Enabled && !matchDimension(row.OwnerUserID, sc.UserID, p.Ownership) {
		return false
	}
	return true
}

func matchDimension(rowValue *string, contextValue string, cfg ClauseConfig) bool {
	if rowValue == nil {
		return cfg.NullableRow
	}
	if contextValue == "" {
		return cfg.NullableContext
	}
	return *rowValue == contextValue
}

func (p *TablePolicy) matchRole(contextRole string, requiredRoles []string) bool {
	if IsPrivileged(contextRole) {
		return true
	}
	if requiredRoles == nil {
		return p.Role.NullableRow
	}
	if contextRole == "" {
		return p.Role.NullableContext
	}
	for _, required := range requiredRoles {
		if contextRole == required {
			return true
		}
	}
	return false
}
