package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/scope"
)

const entityColumns = `entity_id, tenant_id, entity_type, name, parent_entity_id, level, hierarchy_path, is_active, created_at, updated_at`

// querier is the subset of *sql.DB / *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists the organizational tree. When the context carries a scoped
// transaction (opened by scope.Executor.RunInContext), all statements join
// it; otherwise they run directly on the store's pool.
type Store struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewStore creates an entity tree store. metrics may be nil.
func NewStore(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Store {
	return &Store{db: db, logger: logger, metrics: metrics}
}

func (s *Store) querier(ctx context.Context) querier {
	if tx, ok := scope.TxFrom(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) recordOp(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.EntityOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// CreateEntity creates a node under parentID, or a root when parentID is
// nil. The parent must exist, be active, and belong to the same tenant.
func (s *Store) CreateEntity(ctx context.Context, tenantID string, entityType Type, name string, parentID *string) (*Entity, error) {
	e, err := s.createEntity(ctx, tenantID, entityType, name, parentID)
	s.recordOp("create", err)
	return e, err
}

func (s *Store) createEntity(ctx context.Context, tenantID string, entityType Type, name string, parentID *string) (*Entity, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	q := s.querier(ctx)

	var parent *Entity
	if parentID != nil {
		p, err := s.getEntity(ctx, q, *parentID, false)
		if err == ErrNotFound {
			return nil, ErrInvalidParent
		}
		if err != nil {
			return nil, err
		}
		if p.TenantID != tenantID || !p.IsActive {
			return nil, ErrInvalidParent
		}
		parent = p
	}

	now := time.Now().UTC()
	e := &Entity{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      entityType,
		Name:      name,
		ParentID:  parentID,
		Path:      childPath(parent),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.Level = len(e.Path)

	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.TenantID, e.Type, e.Name, e.ParentID,
		e.Level, pq.Array(e.Path), e.IsActive, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return e, nil
}

// GetEntity retrieves an entity by id
func (s *Store) GetEntity(ctx context.Context, entityID string) (*Entity, error) {
	return s.getEntity(ctx, s.querier(ctx), entityID, false)
}

func (s *Store) getEntity(ctx context.Context, q querier, entityID string, forUpdate bool) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE entity_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEntity(q.QueryRowContext(ctx, query, entityID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// MoveEntity reparents an entity and recomputes level and hierarchy path for
// the whole affected subtree in one transaction. A nil newParentID promotes
// the entity to a root. Fails with ErrCycleDetected if the new parent sits
// inside the moved entity's own subtree.
func (s *Store) MoveEntity(ctx context.Context, entityID string, newParentID *string) error {
	start := time.Now()
	var err error
	if tx, ok := scope.TxFrom(ctx); ok {
		err = s.moveWithin(ctx, tx, entityID, newParentID)
	} else {
		err = s.moveInOwnTx(ctx, entityID, newParentID)
	}
	s.recordOp("move", err)
	if err == nil && s.metrics != nil {
		s.metrics.EntityMoveDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Store) moveInOwnTx(ctx context.Context, entityID string, newParentID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin move transaction: %w", err)
	}
	if err := s.moveWithin(ctx, tx, entityID, newParentID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit move transaction: %w", err)
	}
	return nil
}

func (s *Store) moveWithin(ctx context.Context, q querier, entityID string, newParentID *string) error {
	moved, err := s.getEntity(ctx, q, entityID, true)
	if err != nil {
		return err
	}

	var newParent *Entity
	if newParentID != nil {
		p, err := s.getEntity(ctx, q, *newParentID, true)
		if err == ErrNotFound {
			return ErrInvalidParent
		}
		if err != nil {
			return err
		}
		if p.TenantID != moved.TenantID || !p.IsActive {
			return ErrInvalidParent
		}
		if wouldCycle(entityID, p) {
			return ErrCycleDetected
		}
		newParent = p
	}

	// Path maintenance must cover inactive descendants too; a later
	// reactivation has to see a consistent tree.
	descendants, err := s.subtreeOf(ctx, q, moved.TenantID, entityID, true, true)
	if err != nil {
		return err
	}

	updated := recomputeSubtree(moved, newParent, descendants)

	now := time.Now().UTC()
	updateQuery := `
		UPDATE entities
		SET parent_entity_id = $1, level = $2, hierarchy_path = $3, updated_at = $4
		WHERE entity_id = $5
	`
	for _, e := range updated {
		if _, err := q.ExecContext(ctx, updateQuery,
			e.ParentID, e.Level, pq.Array(e.Path), now, e.ID); err != nil {
			return fmt.Errorf("failed to rewrite entity %s: %w", e.ID, err)
		}
	}

	if s.metrics != nil {
		s.metrics.SubtreeRowsRewritten.Observe(float64(len(updated) - 1))
	}
	return nil
}

// AncestorsOf returns the entity's ancestors ordered root first, derived
// from the precomputed path rather than a live recursive traversal.
func (s *Store) AncestorsOf(ctx context.Context, entityID string) ([]*Entity, error) {
	q := s.querier(ctx)

	e, err := s.getEntity(ctx, q, entityID, false)
	if err != nil {
		s.recordOp("ancestors", err)
		return nil, err
	}
	if len(e.Path) == 0 {
		s.recordOp("ancestors", nil)
		return nil, nil
	}

	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE entity_id = ANY($1)
		ORDER BY level ASC
	`
	ancestors, err := s.queryEntities(ctx, q, query, pq.Array(e.Path))
	s.recordOp("ancestors", err)
	return ancestors, err
}

// DescendantsOf returns all active descendants at every depth, bounded by
// the subtree size thanks to the hierarchy path index.
func (s *Store) DescendantsOf(ctx context.Context, entityID string) ([]*Entity, error) {
	return s.descendants(ctx, entityID, false)
}

// DescendantsForAudit returns all descendants including deactivated ones.
// Deactivated entities are excluded from normal traversal but are not
// absent; audit views must see them.
func (s *Store) DescendantsForAudit(ctx context.Context, entityID string) ([]*Entity, error) {
	return s.descendants(ctx, entityID, true)
}

func (s *Store) descendants(ctx context.Context, entityID string, includeInactive bool) ([]*Entity, error) {
	q := s.querier(ctx)

	e, err := s.getEntity(ctx, q, entityID, false)
	if err != nil {
		s.recordOp("descendants", err)
		return nil, err
	}

	descendants, err := s.subtreeOf(ctx, q, e.TenantID, entityID, includeInactive, false)
	s.recordOp("descendants", err)
	return descendants, err
}

func (s *Store) subtreeOf(ctx context.Context, q querier, tenantID, entityID string, includeInactive, forUpdate bool) ([]*Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1 AND $2 = ANY(hierarchy_path)
	`
	if !includeInactive {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY level ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return s.queryEntities(ctx, q, query, tenantID, entityID)
}

// RootsOf returns the tenant's active root entities
func (s *Store) RootsOf(ctx context.Context, tenantID string) ([]*Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1 AND parent_entity_id IS NULL AND is_active = TRUE
		ORDER BY name ASC
	`
	roots, err := s.queryEntities(ctx, s.querier(ctx), query, tenantID)
	s.recordOp("roots", err)
	return roots, err
}

// Deactivate soft-deletes an entity. Entities are never hard-deleted; the
// row stays in place for audit and for path maintenance of its subtree.
func (s *Store) Deactivate(ctx context.Context, entityID string) error {
	query := `UPDATE entities SET is_active = FALSE, updated_at = $1 WHERE entity_id = $2`
	result, err := s.querier(ctx).ExecContext(ctx, query, time.Now().UTC(), entityID)
	if err != nil {
		s.recordOp("deactivate", err)
		return fmt.Errorf("failed to deactivate entity: %w", err)
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		s.recordOp("deactivate", ErrNotFound)
		return ErrNotFound
	}
	s.recordOp("deactivate", nil)
	return nil
}

func (s *Store) queryEntities(ctx context.Context, q querier, query string, args ...interface{}) ([]*Entity, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEntity(scanner interface {
	Scan(dest ...interface{}) error
}) (*Entity, error) {
	var e Entity
	var parentID sql.NullString
	var path pq.StringArray

	err := scanner.Scan(
		&e.ID,
		&e.TenantID,
		&e.Type,
		&e.Name,
		&parentID,
		&e.Level,
		&path,
		&e.IsActive,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		pid := parentID.String
		e.ParentID = &pid
	}
	e.Path = []string(path)

	return &e, nil
}
