// Package audit keeps a per-tenant trail of security-relevant changes:
// role grants and revocations, entity moves, policy installs, and denied
// permission checks.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/storage/postgres"
)

// Action classifies an audit entry
type Action string

const (
	ActionRoleGranted     Action = "role.granted"
	ActionRoleRevoked     Action = "role.revoked"
	ActionEntityMoved     Action = "entity.moved"
	ActionPolicyInstalled Action = "policy.installed"
	ActionAccessDenied    Action = "access.denied"
)

// Entry is one audit record
type Entry struct {
	ID        string                 `json:"entry_id"`
	TenantID  string                 `json:"tenant_id"`
	ActorID   string                 `json:"actor_id"`
	Action    Action                 `json:"action"`
	TargetID  string                 `json:"target_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Recorder writes audit entries. Recording is best-effort: a failed write
// is logged but never fails the operation being audited.
type Recorder struct {
	db     *sql.DB
	reader *sql.DB
	logger *observability.Logger
}

// NewRecorder creates an audit recorder. Writes always go to db; List runs
// on reader, which may be a read replica. A nil reader falls back to db.
func NewRecorder(db, reader *sql.DB, logger *observability.Logger) *Recorder {
	if reader == nil {
		reader = db
	}
	return &Recorder{db: db, reader: reader, logger: logger}
}

// Record writes one entry. Writes go directly to the pool, outside any
// scoped transaction, so a rolled-back unit of work still leaves its denial
// trail behind.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to marshal audit detail")
		detail = []byte("{}")
	}

	query := `
		INSERT INTO audit_entries (entry_id, tenant_id, actor_id, action, target_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.ActorID, string(entry.Action),
		entry.TargetID, detail, entry.CreatedAt); err != nil {
		r.logger.WithError(err).WithField("action", string(entry.Action)).
			Error("Failed to record audit entry")
	}
}

// List returns a tenant's most recent entries, newest first
func (r *Recorder) List(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT entry_id, tenant_id, actor_id, action, target_id, detail, created_at
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.reader.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var detail []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &action, &e.TargetID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = Action(action)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				r.logger.WithError(err).Warn("Skipping malformed audit detail")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MigrationComponent names this package's slice of the shared migration table
const MigrationComponent = "audit"

// Migrations returns the audit schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create audit_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_entries (
					entry_id UUID PRIMARY KEY,
					tenant_id TEXT NOT NULL DEFAULT '',
					actor_id TEXT,
					action VARCHAR(100) NOT NULL,
					target_id TEXT,
					detail JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_entries_tenant_created ON audit_entries(tenant_id, created_at DESC);
				CREATE INDEX idx_audit_entries_action ON audit_entries(action);
			`,
		},
	}
}
