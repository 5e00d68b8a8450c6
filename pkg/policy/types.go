// Package policy compiles per-table row-visibility rules into Postgres
// row-level-security predicates. A table's policy is the conjunction of up
// to five clauses (tenant, sub-org, location, role, ownership) that read the
// session security context stamped by pkg/scope.
package policy

import (
	"fmt"
	"regexp"
)

// Session setting names read by compiled predicates. These mirror the
// settings written by scope.Manager.
const (
	settingTenantID   = "lattice.tenant_id"
	settingSubOrgID   = "lattice.sub_org_id"
	settingLocationID = "lattice.location_id"
	settingUserRole   = "lattice.user_role"
	settingUserID     = "lattice.user_id"
)

// PolicyName is the name under which every managed row-security policy is
// installed. Reinstallation drops and recreates the policy under this name.
const PolicyName = "lattice_scope"

// Roles that bypass the role clause entirely. Deliberate escape hatch for
// platform operators; see the role clause in compiler.go.
var privilegedRoles = []string{"admin", "super_admin"}

// IsPrivileged reports whether the role bypasses role clauses. The HTTP
// permission gate honors the same set, so a platform operator is privileged
// consistently at both enforcement layers.
func IsPrivileged(role string) bool {
	for _, privileged := range privilegedRoles {
		if role == privileged {
			return true
		}
	}
	return false
}

// ClauseConfig controls one optional clause of a table policy.
//
// NullableRow governs rows whose column value is NULL: when true a NULL row
// value matches any context. NullableContext governs an unset context
// dimension: when true the clause is non-restrictive if the dimension was
// never stamped. Both default to deny; an unset dimension hides every row
// with a non-null column value unless explicitly marked otherwise, so a
// forgotten context setup fails closed instead of granting global access.
type ClauseConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	NullableRow     bool `yaml:"nullable_row" json:"nullable_row"`
	NullableContext bool `yaml:"nullable_context" json:"nullable_context"`

	// Advisory clauses are evaluated in-process for display filtering but
	// never compiled into the installed predicate.
	Advisory bool `yaml:"advisory" json:"advisory"`
}

// TablePolicy declares which clauses guard a table and which columns they
// read. The tenant clause is always enforced and cannot be disabled. Column
// names default to the platform conventions when empty.
type TablePolicy struct {
	Table        string `yaml:"table" json:"table"`
	TenantColumn string `yaml:"tenant_column,omitempty" json:"tenant_column,omitempty"`

	SubOrg       ClauseConfig `yaml:"sub_org" json:"sub_org"`
	SubOrgColumn string       `yaml:"sub_org_column,omitempty" json:"sub_org_column,omitempty"`

	Location       ClauseConfig `yaml:"location" json:"location"`
	LocationColumn string       `yaml:"location_column,omitempty" json:"location_column,omitempty"`

	Role       ClauseConfig `yaml:"role" json:"role"`
	RoleColumn string       `yaml:"role_column,omitempty" json:"role_column,omitempty"`

	Ownership   ClauseConfig `yaml:"ownership" json:"ownership"`
	OwnerColumn string       `yaml:"owner_column,omitempty" json:"owner_column,omitempty"`
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks the policy is well formed. Table and column names are
// interpolated into DDL, so they must be plain identifiers.
func (p *TablePolicy) Validate() error {
	if p.Table == "" {
		return fmt.Errorf("table name is required")
	}
	for _, name := range []string{
		p.Table, p.TenantColumn, p.SubOrgColumn,
		p.LocationColumn, p.RoleColumn, p.OwnerColumn,
	} {
		if name != "" && !identifierPattern.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

func (p *TablePolicy) tenantColumn() string   { return defaultColumn(p.TenantColumn, "tenant_id") }
func (p *TablePolicy) subOrgColumn() string   { return defaultColumn(p.SubOrgColumn, "sub_org_id") }
func (p *TablePolicy) locationColumn() string { return defaultColumn(p.LocationColumn, "location_id") }
func (p *TablePolicy) roleColumn() string     { return defaultColumn(p.RoleColumn, "required_roles") }
func (p *TablePolicy) ownerColumn() string    { return defaultColumn(p.OwnerColumn, "owner_user_id") }

func defaultColumn(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// InstallError wraps a failure to install or replace a table's policy.
// Fatal at bootstrap: running with partial enforcement is worse than not
// starting.
type InstallError struct {
	Table string
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("policy: failed to install policy on table %s: %v", e.Table, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
