package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/apperrors"
	"github.com/lexitau/lexitau-engine/pkg/config"
)

func testGuardConfig() *config.GuardConfig {
	return &config.GuardConfig{
		AllowedSchemas: []string{"public"},
		AllowedTables: []string{
			"public.documents",
			"public.clients",
			"public.projects",
			"public.line_items",
			"public.extracted_fields",
			"public.field_corrections",
			"public.categories",
		},
		TenantColumn:          "business_id",
		TenantParam:           "business_id",
		TenantEnforcePerTable: true,
		TenantRequiredTables:  []string{"public.documents", "public.clients", "public.projects"},
		FunctionDenylist:      []string{"pg_sleep", "pg_read_.*", "dblink.*", "lo_.*"},
	}
}

func newTestValidator(t *testing.T) Validator {
	t.Helper()
	policy, err := CompilePolicy(testGuardConfig())
	require.NoError(t, err)
	return NewValidator(policy, zap.NewNop())
}

// validate parses sql and runs the guard, returning the rejection reason or
// empty string on acceptance.
func validate(t *testing.T, v Validator, sql string) string {
	t.Helper()
	result, _, err := ParseSQL(sql)
	if err != nil {
		ge, ok := apperrors.IsGuardError(err)
		require.True(t, ok)
		return ge.Reason
	}
	err = v.Validate(result, sql)
	if err == nil {
		return ""
	}
	ge, ok := apperrors.IsGuardError(err)
	require.True(t, ok, "expected GuardError, got %T", err)
	return ge.Reason
}

func TestValidate_Accepts(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		sql  string
	}{
		{
			name: "simple tenant scoped select",
			sql:  "SELECT id FROM documents WHERE business_id = :business_id AND documents.business_id = :business_id",
		},
		{
			name: "aliased table",
			sql:  "SELECT d.id FROM documents d WHERE business_id = :business_id AND d.business_id = :business_id",
		},
		{
			name: "join with per-alias predicates",
			sql: "SELECT d.id, c.name FROM documents d JOIN clients c ON d.client_id = c.id " +
				"WHERE business_id = :business_id AND d.business_id = :business_id AND c.business_id = :business_id",
		},
		{
			name: "categories exempt from per-alias check",
			sql: "SELECT d.id, cat.name FROM documents d JOIN categories cat ON d.category_id = cat.id " +
				"WHERE business_id = :business_id AND d.business_id = :business_id",
		},
		{
			name: "non-recursive cte",
			sql: "WITH recent AS (SELECT id FROM documents WHERE documents.business_id = :business_id) " +
				"SELECT * FROM recent WHERE business_id = :business_id",
		},
		{
			name: "allowed function",
			sql:  "SELECT count(*) FROM line_items WHERE business_id = :business_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, validate(t, v, tt.sql))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name       string
		sql        string
		wantReason string
	}{
		{
			name:       "not valid sql",
			sql:        "SELEC wat",
			wantReason: "failed_to_parse_sql",
		},
		{
			name:       "update statement",
			sql:        "UPDATE documents SET status = 'x' WHERE business_id = :business_id",
			wantReason: "non_select_statement",
		},
		{
			name:       "multiple statements",
			sql:        "SELECT 1; SELECT 2",
			wantReason: "non_select_statement",
		},
		{
			name:       "top level union",
			sql:        "SELECT id FROM documents WHERE business_id = :business_id UNION SELECT id FROM clients",
			wantReason: "set_operations_disallowed",
		},
		{
			name:       "intersect",
			sql:        "SELECT 1 INTERSECT SELECT 2",
			wantReason: "set_operations_disallowed",
		},
		{
			name:       "schema not allowed",
			sql:        "SELECT * FROM audit.reports WHERE business_id = :business_id",
			wantReason: "schema_not_allowed:audit",
		},
		{
			name:       "table not allowed",
			sql:        "SELECT * FROM public.users WHERE business_id = :business_id",
			wantReason: "table_not_allowed:public.users",
		},
		{
			name:       "with recursive",
			sql:        "WITH RECURSIVE r AS (SELECT 1) SELECT * FROM r WHERE business_id = :business_id",
			wantReason: "with_recursive_disallowed",
		},
		{
			name:       "lateral join",
			sql:        "SELECT * FROM documents d, LATERAL (SELECT 1) x WHERE business_id = :business_id AND d.business_id = :business_id",
			wantReason: "lateral_joins_disallowed",
		},
		{
			name:       "denied function",
			sql:        "SELECT pg_sleep(10) FROM documents WHERE business_id = :business_id AND documents.business_id = :business_id",
			wantReason: "function_denied:pg_sleep",
		},
		{
			name:       "denied function by wildcard pattern",
			sql:        "SELECT pg_read_file('x') FROM documents WHERE business_id = :business_id AND documents.business_id = :business_id",
			wantReason: "function_denied:pg_read_file",
		},
		{
			name:       "denied function with qualified name",
			sql:        "SELECT pg_catalog.pg_sleep(1) FROM documents WHERE business_id = :business_id AND documents.business_id = :business_id",
			wantReason: "function_denied:pg_sleep",
		},
		{
			name:       "missing tenant scope entirely",
			sql:        "SELECT id FROM documents",
			wantReason: "missing_tenant_scope",
		},
		{
			name:       "join partner missing per-alias predicate",
			sql:        "SELECT * FROM documents d JOIN clients c ON d.client_id = c.id WHERE business_id = :business_id AND d.business_id = :business_id",
			wantReason: "missing_tenant_scope_for_alias:c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantReason, validate(t, v, tt.sql))
		})
	}
}

// A join across two schemas is rejected as cross_schema_join even when both
// tables would individually pass the allow-list.
func TestValidate_CrossSchemaJoin(t *testing.T) {
	cfg := testGuardConfig()
	cfg.AllowedSchemas = append(cfg.AllowedSchemas, "other_schema")
	cfg.AllowedTables = append(cfg.AllowedTables, "other_schema.reports")
	policy, err := CompilePolicy(cfg)
	require.NoError(t, err)
	v := NewValidator(policy, zap.NewNop())

	sql := "SELECT * FROM public.documents d JOIN other_schema.reports r ON d.id = r.document_id " +
		"WHERE business_id = :business_id AND d.business_id = :business_id"
	assert.Equal(t, "cross_schema_join", validate(t, v, sql))
}

// SELECT 1 references no tables at all but must still fail the global
// tenant check.
func TestValidate_SelectOneNeedsTenantScope(t *testing.T) {
	v := newTestValidator(t)
	assert.Equal(t, "missing_tenant_scope", validate(t, v, "SELECT 1"))
}

// Feature-policy checks run before the function deny-list, so a statement
// carrying both a denied function and a top-level UNION reports the union.
func TestValidate_SetOperationBeforeFunctionDenylist(t *testing.T) {
	v := newTestValidator(t)
	sql := "SELECT pg_sleep(10) FROM documents UNION SELECT id FROM clients"
	assert.Equal(t, "set_operations_disallowed", validate(t, v, sql))
}

// The same base table joined twice needs a predicate per alias.
func TestValidate_SelfJoinNeedsBothAliases(t *testing.T) {
	v := newTestValidator(t)

	sql := "SELECT * FROM documents a JOIN documents b ON a.id = b.parent_id " +
		"WHERE business_id = :business_id AND a.business_id = :business_id"
	assert.Equal(t, "missing_tenant_scope_for_alias:b", validate(t, v, sql))

	scoped := sql + " AND b.business_id = :business_id"
	assert.Empty(t, validate(t, v, scoped))
}

func TestValidate_PerTableEnforcementDisabled(t *testing.T) {
	cfg := testGuardConfig()
	cfg.TenantEnforcePerTable = false
	policy, err := CompilePolicy(cfg)
	require.NoError(t, err)
	v := NewValidator(policy, zap.NewNop())

	// Global predicate alone is enough when per-table enforcement is off.
	sql := "SELECT * FROM documents d JOIN clients c ON d.client_id = c.id WHERE business_id = :business_id"
	assert.Empty(t, validate(t, v, sql))
}

func TestCompilePolicy_InvalidDenylistPattern(t *testing.T) {
	cfg := testGuardConfig()
	cfg.FunctionDenylist = []string{"([bad"}
	_, err := CompilePolicy(cfg)
	require.Error(t, err)
}
