// Package permissions aggregates a user's role assignments into one
// effective permission set and answers operation-level authorization
// queries. Row visibility is pkg/policy's job; this package decides whether
// a user may invoke an operation at all.
package permissions

import (
	"fmt"
	"time"
)

// GrantScope bounds where a grant applies
type GrantScope string

const (
	ScopeTenant GrantScope = "tenant"
	ScopeEntity GrantScope = "entity"
	ScopeOwn    GrantScope = "own"
)

// Grant is the set of operations a role allows on one module.
//
// A grant with no operations contributes nothing; permission data missing
// its operations array fails closed rather than granting everything.
type Grant struct {
	Operations []string   `json:"operations"`
	Scope      GrantScope `json:"scope,omitempty"`
}

// PermissionSet maps application code to module code to grant. Keys join
// into hierarchical permission strings of the form app.module.operation.
type PermissionSet map[string]map[string]Grant

// Restrictions are upper bounds subtracted after the permission union.
// Merging is conservative: the combined value is never looser than the
// tightest value any active role carries.
type Restrictions struct {
	MaxRecordsPerQuery int      `json:"max_records_per_query,omitempty"`
	AllowExport        *bool    `json:"allow_export,omitempty"`
	AllowBulkActions   *bool    `json:"allow_bulk_actions,omitempty"`
	AllowedIPRanges    []string `json:"allowed_ip_ranges,omitempty"`
	AccessWindow       string   `json:"access_window,omitempty"`
}

// Merge folds other into r, keeping the most restrictive value per field:
// the smaller limit, ANDed booleans, the intersection of IP ranges, and the
// first declared access window.
func (r *Restrictions) Merge(other Restrictions) {
	if other.MaxRecordsPerQuery > 0 &&
		(r.MaxRecordsPerQuery == 0 || other.MaxRecordsPerQuery < r.MaxRecordsPerQuery) {
		r.MaxRecordsPerQuery = other.MaxRecordsPerQuery
	}
	r.AllowExport = andBool(r.AllowExport, other.AllowExport)
	r.AllowBulkActions = andBool(r.AllowBulkActions, other.AllowBulkActions)
	r.AllowedIPRanges = intersectOrKeep(r.AllowedIPRanges, other.AllowedIPRanges)
	if r.AccessWindow == "" {
		r.AccessWindow = other.AccessWindow
	}
}

func andBool(a, b *bool) *bool {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := *a && *b
	return &v
}

func intersectOrKeep(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	inB := make(map[string]bool, len(b))
	for _, v := range b {
		inB[v] = true
	}
	var out []string
	for _, v := range a {
		if inB[v] {
			out = append(out, v)
		}
	}
	return out
}

// RoleRecord is a role as stored, with permission and restriction payloads
// still raw. Parsing is deferred to aggregation so one corrupt role cannot
// abort loading the rest.
type RoleRecord struct {
	ID               string
	TenantID         string
	Name             string
	Priority         int
	PermissionsJSON  []byte
	RestrictionsJSON []byte
	IsSystemRole     bool
	IsDefault        bool
}

// RoleAssignment binds a user to a role, optionally narrowed to an entity.
// Only active, unexpired assignments contribute to aggregation.
type RoleAssignment struct {
	ID          string     `json:"assignment_id"`
	UserID      string     `json:"user_id"`
	RoleID      string     `json:"role_id"`
	TenantID    string     `json:"tenant_id"`
	EntityID    *string    `json:"entity_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsTemporary bool       `json:"is_temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	GrantedAt   time.Time  `json:"granted_at"`
}

// EffectivePermissions is the merged result of all of a user's active role
// assignments within a tenant.
type EffectivePermissions struct {
	UserID       string        `json:"user_id"`
	TenantID     string        `json:"tenant_id"`
	Permissions  PermissionSet `json:"permissions"`
	Restrictions Restrictions  `json:"restrictions"`
	Roles        []string      `json:"roles"`
	ComputedAt   time.Time     `json:"computed_at"`
}

// RoleParseError reports malformed stored permission or restriction data
// on one role. Aggregation logs it and continues with the remaining roles.
type RoleParseError struct {
	RoleID string
	Err    error
}

func (e *RoleParseError) Error() string {
	return fmt.Sprintf("permissions: failed to parse role %s: %v", e.RoleID, e.Err)
}

func (e *RoleParseError) Unwrap() error {
	return e.Err
}
