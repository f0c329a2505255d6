package guard

import (
	"go.uber.org/zap"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lexitau/lexitau-engine/pkg/apperrors"
	"github.com/lexitau/lexitau-engine/pkg/sqlast"
)

// ParseSQL converts named placeholders to positional form and parses the
// result, mapping parser failures to the guard's rejection taxonomy.
func ParseSQL(sql string) (*pg_query.ParseResult, *sqlast.ParamMap, error) {
	positional, params := sqlast.ToPositional(sql)
	result, err := sqlast.Parse(positional)
	if err != nil {
		return nil, nil, apperrors.NewGuardError("failed_to_parse_sql")
	}
	return result, params, nil
}

// Validator runs the fixed check sequence over one parsed statement.
type Validator interface {
	// Validate checks the parsed statement against policy. renderedSQL is
	// the user-visible SQL text (named-parameter form) used for the textual
	// tenant checks. Returns nil on acceptance or a *apperrors.GuardError
	// with the specific rejection reason.
	Validate(result *pg_query.ParseResult, renderedSQL string) error
}

type validator struct {
	policy *Policy
	logger *zap.Logger
}

// NewValidator creates a policy guard.
func NewValidator(policy *Policy, logger *zap.Logger) Validator {
	return &validator{
		policy: policy,
		logger: logger,
	}
}

// Validate runs the checks in fixed order, first failure wins:
// statement kind, allow-list, feature policy, function deny-list,
// tenant scope. The ordering is part of the contract; callers and tests
// rely on the more clear-cut categories surfacing first.
func (v *validator) Validate(result *pg_query.ParseResult, renderedSQL string) error {
	sel, ok := sqlast.SingleSelect(result)
	if !ok {
		return apperrors.NewGuardError("non_select_statement")
	}
	if sqlast.IsSetOperation(sel) {
		return apperrors.NewGuardError("set_operations_disallowed")
	}

	tables := sqlast.CollectTables(result)
	if err := v.checkAllowList(tables); err != nil {
		return err
	}

	if sqlast.HasRecursiveCTE(result) {
		return apperrors.NewGuardError("with_recursive_disallowed")
	}
	if sqlast.HasLateral(result) {
		return apperrors.NewGuardError("lateral_joins_disallowed")
	}

	if name, denied := v.policy.deniedFunction(sqlast.CollectFunctionNames(result)); denied {
		return apperrors.NewGuardError("function_denied:%s", name)
	}

	return v.checkTenantScope(tables, renderedSQL)
}

func (v *validator) checkAllowList(tables []sqlast.TableRef) error {
	schemas := make(map[string]bool)
	for _, t := range tables {
		schemas[t.Schema] = true
	}
	if len(schemas) > 1 {
		return apperrors.NewGuardError("cross_schema_join")
	}

	for _, t := range tables {
		if !v.policy.schemaAllowed(t.Schema) {
			return apperrors.NewGuardError("schema_not_allowed:%s", t.Schema)
		}
	}
	for _, t := range tables {
		if !v.policy.tableAllowed(t.Qualified()) {
			return apperrors.NewGuardError("table_not_allowed:%s", t.Qualified())
		}
	}
	return nil
}

// checkTenantScope verifies (a) a global tenant predicate somewhere in the
// SQL text and (b), when per-table enforcement is on, a qualified predicate
// for every alias of a tenant-required table. Both checks run on the SQL
// text: the global predicate is often supplied outside the parsed fragment,
// where an AST check could not see it.
func (v *validator) checkTenantScope(tables []sqlast.TableRef, renderedSQL string) error {
	if !v.policy.globalTenantRe.MatchString(renderedSQL) {
		return apperrors.NewGuardError("missing_tenant_scope")
	}

	if !v.policy.enforcePerTable {
		return nil
	}

	for _, t := range tables {
		if !v.policy.TenantRequired(t.Qualified()) {
			continue
		}
		qualifier := t.Qualifier()
		re := tenantPredicateRe(qualifier, v.policy.tenantColumn, v.policy.tenantParam)
		if !re.MatchString(renderedSQL) {
			return apperrors.NewGuardError("missing_tenant_scope_for_alias:%s", qualifier)
		}
	}
	return nil
}
