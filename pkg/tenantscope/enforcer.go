// Package tenantscope force-injects tenant predicates into arbitrary SQL.
// Unlike the guard it accepts SQL that has not passed (and may never pass)
// the allow-list; it is the last hard guarantee applied to LLM-generated
// candidates before anything reaches a database.
package tenantscope

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/sqlast"
)

// Enforcer injects qualifier.<tenant_column> = :<tenant_param> predicates
// for every tenant-bearing table reference.
type Enforcer interface {
	// Enforce returns the SQL with tenant predicates attached. It never
	// fails: when the SQL cannot be parsed a textual fallback is appended
	// that at minimum forces the binding layer to require a tenant value.
	Enforce(sql string) string
}

type enforcer struct {
	tenantTables map[string]bool // bare lowercased table names
	column       string
	param        string
	logger       *zap.Logger
}

// NewEnforcer creates a tenant scope enforcer from guard configuration.
func NewEnforcer(cfg *config.GuardConfig, logger *zap.Logger) Enforcer {
	tables := make(map[string]bool)
	for _, t := range cfg.TenantTables {
		tables[strings.ToLower(t)] = true
	}
	return &enforcer{
		tenantTables: tables,
		column:       cfg.TenantColumn,
		param:        cfg.TenantParam,
		logger:       logger,
	}
}

func (e *enforcer) Enforce(sql string) string {
	positional, params := sqlast.ToPositional(sql)
	result, err := sqlast.Parse(positional)
	if err != nil {
		e.logger.Warn("tenant enforcement falling back to textual append", zap.Error(err))
		return e.textualFallback(sql)
	}

	paramIdx := params.Ensure(e.param)

	cteNames := sqlast.CTENames(result)
	changed := false
	sqlast.WalkSelects(result, func(sel *pg_query.SelectStmt) {
		if e.enforceSelect(sel, cteNames, paramIdx) {
			changed = true
		}
	})

	if !changed {
		return sql
	}

	rendered, err := sqlast.Deparse(result)
	if err != nil {
		e.logger.Warn("tenant enforcement deparse failed, falling back to textual append", zap.Error(err))
		return e.textualFallback(sql)
	}
	return params.ToNamed(rendered)
}

// enforceSelect handles one SELECT's own FROM clause: plain tables get the
// predicate in WHERE, join members get it AND-combined into their join's
// ON condition. Predicates a join cannot hold (USING and NATURAL joins)
// land in WHERE too. Subquery contents are covered by the caller's walk.
func (e *enforcer) enforceSelect(sel *pg_query.SelectStmt, cteNames map[string]bool, paramIdx int) bool {
	changed := false
	var wherePreds []*pg_query.Node

	for _, from := range sel.FromClause {
		switch n := from.Node.(type) {
		case *pg_query.Node_RangeVar:
			if pred := e.predicateFor(n.RangeVar, cteNames, paramIdx); pred != nil {
				wherePreds = append(wherePreds, pred)
			}
		case *pg_query.Node_JoinExpr:
			joinChanged, escalated := e.enforceJoin(n.JoinExpr, cteNames, paramIdx)
			if joinChanged {
				changed = true
			}
			wherePreds = append(wherePreds, escalated...)
		}
	}

	if len(wherePreds) > 0 {
		combined := sqlast.CombineWithAnd(wherePreds)
		if sel.WhereClause == nil {
			sel.WhereClause = combined
		} else {
			sel.WhereClause = sqlast.MakeAndExpr(sel.WhereClause, combined)
		}
		changed = true
	}

	return changed
}

// enforceJoin attaches predicates for the join's direct RangeVar members to
// the join's own ON condition and recurses into nested joins. A join that
// uses USING or NATURAL cannot also carry an ON condition; its predicates
// are returned for the caller to put in the enclosing WHERE clause, along
// with anything nested joins escalated.
func (e *enforcer) enforceJoin(join *pg_query.JoinExpr, cteNames map[string]bool, paramIdx int) (bool, []*pg_query.Node) {
	changed := false
	var preds []*pg_query.Node
	var escalated []*pg_query.Node

	for _, side := range []*pg_query.Node{join.Larg, join.Rarg} {
		if side == nil {
			continue
		}
		switch n := side.Node.(type) {
		case *pg_query.Node_RangeVar:
			if pred := e.predicateFor(n.RangeVar, cteNames, paramIdx); pred != nil {
				preds = append(preds, pred)
			}
		case *pg_query.Node_JoinExpr:
			nestedChanged, nestedEscalated := e.enforceJoin(n.JoinExpr, cteNames, paramIdx)
			if nestedChanged {
				changed = true
			}
			escalated = append(escalated, nestedEscalated...)
		}
	}

	if len(preds) > 0 {
		if len(join.UsingClause) > 0 || join.IsNatural {
			escalated = append(escalated, preds...)
		} else {
			combined := sqlast.CombineWithAnd(preds)
			if join.Quals == nil {
				join.Quals = combined
			} else {
				join.Quals = sqlast.MakeAndExpr(join.Quals, combined)
			}
			changed = true
		}
	}

	return changed, escalated
}

// predicateFor builds qualifier.column = $paramIdx for a tenant-bearing
// table reference, or nil when the reference is exempt.
func (e *enforcer) predicateFor(rv *pg_query.RangeVar, cteNames map[string]bool, paramIdx int) *pg_query.Node {
	name := strings.ToLower(rv.Relname)
	if name == "" || cteNames[name] || !e.tenantTables[name] {
		return nil
	}

	qualifier := rv.Relname
	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		qualifier = rv.Alias.Aliasname
	}

	return sqlast.MakeOpExpr("=",
		sqlast.MakeColumnRef(qualifier, e.column),
		sqlast.MakeParamRef(paramIdx))
}

// textualFallback appends a weak tenant marker to unparseable SQL. The
// appended predicate cannot filter anything; its only job is to force the
// parameter-binding layer to still demand a tenant value.
func (e *enforcer) textualFallback(sql string) string {
	trimmed := strings.TrimRight(sql, " \t\n;")
	keyword := "WHERE"
	if containsTopLevelWhere(trimmed) {
		keyword = "AND"
	}
	return trimmed + " " + keyword + " :" + e.param + " IS NOT NULL /* bind required */"
}

// containsTopLevelWhere is a best-effort textual probe; on unparseable SQL
// there is no AST to consult.
func containsTopLevelWhere(sql string) bool {
	return strings.Contains(strings.ToUpper(sql), "WHERE")
}
