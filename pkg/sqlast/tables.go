package sqlast

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// DefaultSchema is assumed for unqualified table references.
const DefaultSchema = "public"

// TableRef is one table reference from a FROM or JOIN clause.
type TableRef struct {
	Schema string // defaults to "public" when unqualified
	Name   string
	Alias  string // empty when no alias was written
}

// Qualified returns the schema-qualified name ("schema.table").
func (r TableRef) Qualified() string {
	return r.Schema + "." + r.Name
}

// Qualifier returns the identifier that qualifies the table's columns:
// the alias when present, else the bare table name.
func (r TableRef) Qualifier() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Name
}

// CollectTables walks every SELECT in the parse result and returns all table
// references found in FROM and JOIN clauses, in written order, deduplicated
// by (schema, table, alias). References whose name matches a CTE defined in
// the statement are skipped, as are empty synthesized names.
func CollectTables(result *pg_query.ParseResult) []TableRef {
	cteNames := collectCTENames(result)

	seen := make(map[TableRef]bool)
	var refs []TableRef
	WalkSelects(result, func(sel *pg_query.SelectStmt) {
		for _, from := range sel.FromClause {
			collectFromNode(from, cteNames, seen, &refs)
		}
	})
	return refs
}

// TablesInFrom returns the table references of one FROM clause without
// descending into subqueries, in written order. Used for star expansion and
// tenant-predicate injection where only the SELECT's own targets matter.
func TablesInFrom(fromClause []*pg_query.Node, cteNames map[string]bool) []TableRef {
	seen := make(map[TableRef]bool)
	var refs []TableRef
	for _, from := range fromClause {
		collectRangeVars(from, cteNames, seen, &refs)
	}
	return refs
}

// CTENames returns the lowercased names of every CTE defined anywhere in
// the parse result.
func CTENames(result *pg_query.ParseResult) map[string]bool {
	return collectCTENames(result)
}

func collectCTENames(result *pg_query.ParseResult) map[string]bool {
	names := make(map[string]bool)
	WalkSelects(result, func(sel *pg_query.SelectStmt) {
		if sel.WithClause == nil {
			return
		}
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				names[strings.ToLower(c.CommonTableExpr.Ctename)] = true
			}
		}
	})
	return names
}

// collectFromNode gathers table refs from a FROM node, descending into joins
// and subselects.
func collectFromNode(node *pg_query.Node, cteNames map[string]bool, seen map[TableRef]bool, refs *[]TableRef) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		addRangeVar(n.RangeVar, cteNames, seen, refs)
	case *pg_query.Node_JoinExpr:
		collectFromNode(n.JoinExpr.Larg, cteNames, seen, refs)
		collectFromNode(n.JoinExpr.Rarg, cteNames, seen, refs)
	case *pg_query.Node_RangeSubselect:
		// Subquery contents are reached by the WalkSelects caller.
	case *pg_query.Node_RangeFunction:
		// Table-valued function, not a catalog table.
	}
}

// collectRangeVars is collectFromNode restricted to one FROM clause: joins
// are flattened but subselects are not entered.
func collectRangeVars(node *pg_query.Node, cteNames map[string]bool, seen map[TableRef]bool, refs *[]TableRef) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		addRangeVar(n.RangeVar, cteNames, seen, refs)
	case *pg_query.Node_JoinExpr:
		collectRangeVars(n.JoinExpr.Larg, cteNames, seen, refs)
		collectRangeVars(n.JoinExpr.Rarg, cteNames, seen, refs)
	}
}

func addRangeVar(rv *pg_query.RangeVar, cteNames map[string]bool, seen map[TableRef]bool, refs *[]TableRef) {
	if rv.Relname == "" {
		return
	}
	if rv.Schemaname == "" && cteNames[strings.ToLower(rv.Relname)] {
		return
	}

	ref := TableRef{
		Schema: rv.Schemaname,
		Name:   rv.Relname,
	}
	if ref.Schema == "" {
		ref.Schema = DefaultSchema
	}
	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		ref.Alias = rv.Alias.Aliasname
	}

	if seen[ref] {
		return
	}
	seen[ref] = true
	*refs = append(*refs, ref)
}
