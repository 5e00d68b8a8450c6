package policy

import (
	"fmt"
	"strings"
)

// setting reads a context dimension inside a predicate. set_config writes
// empty strings on clear, so empty is normalized to NULL; comparing against
// NULL then yields NULL (row hidden), which is the fail-closed default.
func setting(name string) string {
	return fmt.Sprintf("NULLIF(current_setting('%s', true), '')", name)
}

// Compile renders the policy's enforced predicate as a SQL boolean
// expression suitable for a row-security USING clause. Advisory clauses are
// excluded; they only participate in Evaluate.
func (p *TablePolicy) Compile() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	clauses := []string{p.tenantClause()}

	if p.SubOrg.Enabled && !p.SubOrg.Advisory {
		clauses = append(clauses, matchClause(p.subOrgColumn(), settingSubOrgID, p.SubOrg))
	}
	if p.Location.Enabled && !p.Location.Advisory {
		clauses = append(clauses, matchClause(p.locationColumn(), settingLocationID, p.Location))
	}
	if p.Role.Enabled && !p.Role.Advisory {
		clauses = append(clauses, p.roleClause())
	}
	if p.Ownership.Enabled && !p.Ownership.Advisory {
		clauses = append(clauses, matchClause(p.ownerColumn(), settingUserID, p.Ownership))
	}

	return strings.Join(clauses, " AND "), nil
}

// The tenant clause is unconditional: a row is never visible outside its
// tenant, and an unset tenant dimension hides everything.
func (p *TablePolicy) tenantClause() string {
	return fmt.Sprintf("(%s::text = %s)", p.tenantColumn(), setting(settingTenantID))
}

func matchClause(column, settingName string, cfg ClauseConfig) string {
	var alternatives []string
	if cfg.NullableRow {
		alternatives = append(alternatives, fmt.Sprintf("%s IS NULL", column))
	}
	alternatives = append(alternatives, fmt.Sprintf("%s::text = %s", column, setting(settingName)))
	if cfg.NullableContext {
		alternatives = append(alternatives, fmt.Sprintf("%s IS NULL", setting(settingName)))
	}
	return "(" + strings.Join(alternatives, " OR ") + ")"
}

// roleClause matches the context role against the row's required-role list.
// Privileged roles bypass the match entirely.
func (p *TablePolicy) roleClause() string {
	roleSetting := setting(settingUserRole)

	var alternatives []string
	if p.Role.NullableRow {
		alternatives = append(alternatives, fmt.Sprintf("%s IS NULL", p.roleColumn()))
	}
	alternatives = append(alternatives,
		fmt.Sprintf("%s = ANY(ARRAY['%s'])", roleSetting, strings.Join(privilegedRoles, "','")),
		fmt.Sprintf("%s = ANY(%s)", roleSetting, p.roleColumn()),
	)
	if p.Role.NullableContext {
		alternatives = append(alternatives, fmt.Sprintf("%s IS NULL", roleSetting))
	}
	return "(" + strings.Join(alternatives, " OR ") + ")"
}
