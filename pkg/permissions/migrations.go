package permissions

import (
	"github.com/lattice-hq/lattice/pkg/storage/postgres"
)

// MigrationComponent names this package's slice of the shared migration table
const MigrationComponent = "permissions"

// Migrations returns the role and assignment schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					role_id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL,
					name VARCHAR(255) NOT NULL,
					priority INT NOT NULL DEFAULT 0,
					permissions JSONB NOT NULL DEFAULT '{}',
					restrictions JSONB NOT NULL DEFAULT '{}',
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, name)
				);

				CREATE INDEX idx_roles_tenant_id ON roles(tenant_id);
				CREATE INDEX idx_roles_priority ON roles(priority);
			`,
		},
		{
			Version:     2,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					assignment_id UUID PRIMARY KEY,
					user_id UUID NOT NULL,
					role_id UUID NOT NULL REFERENCES roles(role_id) ON DELETE CASCADE,
					tenant_id UUID NOT NULL,
					entity_id UUID REFERENCES entities(entity_id),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_temporary BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at TIMESTAMP,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_role_assignments_user_tenant ON role_assignments(user_id, tenant_id);
				CREATE INDEX idx_role_assignments_role_id ON role_assignments(role_id);
				CREATE INDEX idx_role_assignments_expires_at ON role_assignments(expires_at) WHERE is_temporary;
			`,
		},
	}
}
