package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/scope"
)

// querier is the subset of *sql.DB / *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists roles and role assignments. Statements join a scoped
// transaction when the context carries one.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewStore creates a permissions store
func NewStore(db *sql.DB, logger *observability.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) querier(ctx context.Context) querier {
	if tx, ok := scope.TxFrom(ctx); ok {
		return tx
	}
	return s.db
}

// CreateRole stores a role. Permissions and restrictions are serialized to
// JSONB as-is.
func (s *Store) CreateRole(ctx context.Context, tenantID, name string, priority int, permissions PermissionSet, restrictions Restrictions) (string, error) {
	permissionsJSON, err := json.Marshal(permissions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	restrictionsJSON, err := json.Marshal(restrictions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	roleID := uuid.NewString()
	query := `
		INSERT INTO roles (role_id, tenant_id, name, priority, permissions, restrictions, is_system_role, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE)
	`
	if _, err := s.querier(ctx).ExecContext(ctx, query,
		roleID, tenantID, name, priority, permissionsJSON, restrictionsJSON); err != nil {
		return "", fmt.Errorf("failed to create role: %w", err)
	}
	return roleID, nil
}

// AssignRole binds a user to a role. A nil entityID means tenant-wide; a
// non-nil expiresAt makes the assignment temporary.
func (s *Store) AssignRole(ctx context.Context, userID, roleID, tenantID string, entityID *string, expiresAt *time.Time) (*RoleAssignment, error) {
	assignment := &RoleAssignment{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoleID:      roleID,
		TenantID:    tenantID,
		EntityID:    entityID,
		IsActive:    true,
		IsTemporary: expiresAt != nil,
		ExpiresAt:   expiresAt,
		GrantedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO role_assignments (assignment_id, user_id, role_id, tenant_id, entity_id, is_active, is_temporary, expires_at, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.querier(ctx).ExecContext(ctx, query,
		assignment.ID, assignment.UserID, assignment.RoleID, assignment.TenantID,
		assignment.EntityID, assignment.IsActive, assignment.IsTemporary,
		assignment.ExpiresAt, assignment.GrantedAt); err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	return assignment, nil
}

// RevokeRole deactivates an assignment
func (s *Store) RevokeRole(ctx context.Context, assignmentID string) (*RoleAssignment, error) {
	query := `
		UPDATE role_assignments
		SET is_active = FALSE
		WHERE assignment_id = $1 AND is_active = TRUE
		RETURNING assignment_id, user_id, role_id, tenant_id, entity_id, is_active, is_temporary, expires_at, granted_at
	`
	var a RoleAssignment
	var entityID sql.NullString
	var expiresAt sql.NullTime
	err := s.querier(ctx).QueryRowContext(ctx, query, assignmentID).Scan(
		&a.ID, &a.UserID, &a.RoleID, &a.TenantID, &entityID,
		&a.IsActive, &a.IsTemporary, &expiresAt, &a.GrantedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke role: %w", err)
	}
	if entityID.Valid {
		v := entityID.String
		a.EntityID = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Time
		a.ExpiresAt = &v
	}
	return &a, nil
}

// ActiveRoleRecords loads the roles behind a user's active, unexpired
// assignments in a tenant, ordered by ascending priority so higher-priority
// roles are applied last during merging. Permission payloads stay raw.
func (s *Store) ActiveRoleRecords(ctx context.Context, userID, tenantID string) ([]RoleRecord, error) {
	query := `
		SELECT r.role_id, r.tenant_id, r.name, r.priority, r.permissions, r.restrictions, r.is_system_role, r.is_default
		FROM role_assignments a
		JOIN roles r ON r.role_id = a.role_id
		WHERE a.user_id = $1
		  AND a.tenant_id = $2
		  AND a.is_active = TRUE
		  AND (a.expires_at IS NULL OR a.expires_at > NOW())
		ORDER BY r.priority ASC, a.granted_at ASC
	`
	rows, err := s.querier(ctx).QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()

	var records []RoleRecord
	for rows.Next() {
		var r RoleRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority,
			&r.PermissionsJSON, &r.RestrictionsJSON, &r.IsSystemRole, &r.IsDefault); err != nil {
			return nil, fmt.Errorf("failed to scan role record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ExpireTemporaryAssignments deactivates temporary assignments whose expiry
// has passed and returns the affected user/tenant pairs so their cached
// permission sets can be invalidated.
func (s *Store) ExpireTemporaryAssignments(ctx context.Context) ([]RoleAssignment, error) {
	query := `
		UPDATE role_assignments
		SET is_active = FALSE
		WHERE is_temporary = TRUE AND is_active = TRUE AND expires_at <= NOW()
		RETURNING assignment_id, user_id, role_id, tenant_id, entity_id, is_active, is_temporary, expires_at, granted_at
	`
	rows, err := s.querier(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to expire assignments: %w", err)
	}
	defer rows.Close()

	var expired []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var entityID sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.TenantID, &entityID,
			&a.IsActive, &a.IsTemporary, &expiresAt, &a.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired assignment: %w", err)
		}
		if entityID.Valid {
			v := entityID.String
			a.EntityID = &v
		}
		if expiresAt.Valid {
			v := expiresAt.Time
			a.ExpiresAt = &v
		}
		expired = append(expired, a)
	}
	return expired, rows.Err()
}
