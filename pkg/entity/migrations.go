package entity

import (
	"github.com/lattice-hq/lattice/pkg/storage/postgres"
)

// MigrationComponent names this package's slice of the shared migration table
const MigrationComponent = "entity"

// Migrations returns the entity tree schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					entity_id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					entity_type VARCHAR(50) NOT NULL,
					name VARCHAR(255) NOT NULL,
					parent_entity_id UUID REFERENCES entities(entity_id),
					level INT NOT NULL DEFAULT 0,
					hierarchy_path TEXT[] NOT NULL DEFAULT '{}',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_entities_tenant_id ON entities(tenant_id);
				CREATE INDEX idx_entities_parent_entity_id ON entities(parent_entity_id);
				CREATE INDEX idx_entities_hierarchy_path ON entities USING GIN (hierarchy_path);
				CREATE INDEX idx_entities_tenant_active ON entities(tenant_id, is_active);
			`,
		},
		{
			Version:     2,
			Description: "Enforce tenant-scoped entity names per parent",
			SQL: `
				CREATE UNIQUE INDEX idx_entities_unique_name
					ON entities(tenant_id, COALESCE(parent_entity_id::text, ''), name)
					WHERE is_active;
			`,
		},
	}
}
