// Package entity implements the per-tenant organizational hierarchy: a tree
// of organizations, locations, departments, and teams stored flat in
// Postgres, with precomputed ancestor paths for O(1) ancestor and
// O(subtree) descendant lookups.
package entity

import (
	"errors"
	"time"
)

// Type classifies a node in the organizational tree
type Type string

const (
	TypeOrganization Type = "organization"
	TypeLocation     Type = "location"
	TypeDepartment   Type = "department"
	TypeTeam         Type = "team"
)

// Valid reports whether t is a known entity type
func (t Type) Valid() bool {
	switch t {
	case TypeOrganization, TypeLocation, TypeDepartment, TypeTeam:
		return true
	}
	return false
}

var (
	// ErrInvalidParent indicates the referenced parent does not exist, is
	// inactive, or belongs to a different tenant.
	ErrInvalidParent = errors.New("entity: invalid parent")

	// ErrCycleDetected indicates a reparent operation would make an entity
	// its own ancestor.
	ErrCycleDetected = errors.New("entity: move would create a cycle")

	// ErrNotFound indicates the entity does not exist.
	ErrNotFound = errors.New("entity: not found")
)

// Entity is one node in the organizational tree.
//
// Path holds the ordered ancestor ids from root to immediate parent; it
// never contains the entity's own id. Level always equals len(Path), with
// roots at level 0. Both are maintained incrementally on create and move so
// traversals need no recursive queries.
type Entity struct {
	ID        string    `json:"entity_id"`
	TenantID  string    `json:"tenant_id"`
	Type      Type      `json:"entity_type"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_entity_id,omitempty"`
	Level     int       `json:"level"`
	Path      []string  `json:"hierarchy_path"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the entity has no parent
func (e *Entity) IsRoot() bool {
	return e.ParentID == nil
}
