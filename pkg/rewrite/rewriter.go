// Package rewrite mutates an accepted SQL AST: wildcard expansion against
// the live catalog, ORDER BY injection via a fixed heuristic, and LIMIT
// injection for truncation detection. Each mutation records a guard flag
// and audit metadata.
package rewrite

import (
	"context"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/lexitau/lexitau-engine/pkg/catalog"
	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/sqlast"
)

// Guard flags recorded when a mutation fires.
const (
	FlagStarExpanded  = "star_expanded"
	FlagOrderInjected = "order_injected"
	FlagLimitInjected = "limit_injected"
)

// Ordering strategies recorded in audit metadata.
const (
	OrderExisting        = "existing"
	OrderGroupByFirst    = "group_by_first"
	OrderDistinctFirst   = "distinct_first_column"
	OrderTenantHeuristic = "tenant_table_heuristic"
	OrderFallbackFirst   = "fallback_first_column"
)

// StarMeta records, per qualified table, which columns the wildcard
// expansion dropped and why.
type StarMeta struct {
	Excluded map[string]catalog.Exclusions `json:"excluded"`
}

// OrderMeta records which ordering strategy fired and the injected
// expression text.
type OrderMeta struct {
	Strategy   string `json:"strategy"`
	Expression string `json:"expression,omitempty"`
}

// LimitMeta records the literal limit value injected.
type LimitMeta struct {
	Value int `json:"value"`
}

// Metadata is the audit record of one rewrite pass. Guard flags are
// reconstructible from it.
type Metadata struct {
	Star  *StarMeta  `json:"star,omitempty"`
	Order *OrderMeta `json:"order,omitempty"`
	Limit *LimitMeta `json:"limit,omitempty"`
}

// Outcome is the result of one rewrite pass over an AST.
type Outcome struct {
	Flags    []string
	Metadata Metadata
}

// Rewriter applies the three mutations, always in the same order:
// star expansion, order injection, limit injection.
type Rewriter interface {
	Rewrite(ctx context.Context, result *pg_query.ParseResult) Outcome
}

type rewriter struct {
	catalog catalog.Accessor
	cfg     *config.GuardConfig
	logger  *zap.Logger

	tenantRequired map[string]bool
}

// NewRewriter creates a rewriter bound to the catalog accessor and guard
// configuration.
func NewRewriter(cat catalog.Accessor, cfg *config.GuardConfig, logger *zap.Logger) Rewriter {
	required := make(map[string]bool)
	for _, t := range cfg.TenantRequiredTables {
		required[strings.ToLower(t)] = true
	}
	return &rewriter{
		catalog:        cat,
		cfg:            cfg,
		logger:         logger,
		tenantRequired: required,
	}
}

// Rewrite mutates the parse tree in place. The input must already have
// passed the guard, so it holds exactly one plain SELECT.
func (r *rewriter) Rewrite(ctx context.Context, result *pg_query.ParseResult) Outcome {
	var out Outcome

	sel, ok := sqlast.SingleSelect(result)
	if !ok {
		return out
	}
	cteNames := sqlast.CTENames(result)

	if r.cfg.ExpandSelectStar && sqlast.HasStarProjection(sel) {
		if starMeta, expanded := r.expandStar(ctx, sel, cteNames); expanded {
			out.Flags = append(out.Flags, FlagStarExpanded)
			out.Metadata.Star = starMeta
		}
	}

	if orderMeta := r.injectOrder(ctx, sel, cteNames); orderMeta != nil {
		if orderMeta.Strategy != OrderExisting {
			out.Flags = append(out.Flags, FlagOrderInjected)
		}
		out.Metadata.Order = orderMeta
	}

	if sel.LimitCount == nil {
		limit := r.cfg.DefaultRowLimit + 1
		sel.LimitCount = sqlast.MakeIntegerConst(int64(limit))
		sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
		out.Flags = append(out.Flags, FlagLimitInjected)
		out.Metadata.Limit = &LimitMeta{Value: limit}
	}

	return out
}

// expandStar replaces every unqualified `*` projection with explicit
// qualifier.column AS qualifier_column items, walking the FROM targets in
// written order. A table yielding no columns contributes nothing; if no
// table yields any column the original star is kept.
func (r *rewriter) expandStar(ctx context.Context, sel *pg_query.SelectStmt, cteNames map[string]bool) (*StarMeta, bool) {
	tables := sqlast.TablesInFrom(sel.FromClause, cteNames)

	meta := &StarMeta{Excluded: make(map[string]catalog.Exclusions)}
	var expansion []*pg_query.Node
	for _, table := range tables {
		columns, excl := r.catalog.FilteredColumns(ctx, table.Schema, table.Name)
		meta.Excluded[table.Qualified()] = excl
		for _, col := range columns {
			qualifier := table.Qualifier()
			alias := columnAlias(qualifier, col.Name)
			expansion = append(expansion,
				sqlast.MakeResTarget(alias, sqlast.MakeColumnRef(qualifier, col.Name)))
		}
	}

	if len(expansion) == 0 {
		// Catalog gave us nothing to expand with; keeping the star beats
		// producing an empty projection list.
		r.logger.Warn("star expansion produced no columns, keeping wildcard")
		return nil, false
	}

	var targets []*pg_query.Node
	for _, target := range sel.TargetList {
		if sqlast.IsStarTarget(target) {
			targets = append(targets, expansion...)
		} else {
			targets = append(targets, target)
		}
	}
	sel.TargetList = targets

	return meta, true
}

// injectOrder applies the ordering heuristic when no ORDER BY exists.
// First match wins: existing sort, first GROUP BY expression, DISTINCT,
// tenant-table timestamp/id column, positional fallback.
func (r *rewriter) injectOrder(ctx context.Context, sel *pg_query.SelectStmt, cteNames map[string]bool) *OrderMeta {
	if len(sel.SortClause) > 0 {
		return &OrderMeta{Strategy: OrderExisting}
	}

	if len(sel.GroupClause) > 0 {
		expr := proto.Clone(sel.GroupClause[0]).(*pg_query.Node)
		sel.SortClause = []*pg_query.Node{
			sqlast.MakeSortBy(expr, pg_query.SortByDir_SORTBY_ASC),
		}
		return &OrderMeta{Strategy: OrderGroupByFirst, Expression: exprText(expr) + " ASC"}
	}

	if len(sel.DistinctClause) > 0 {
		sel.SortClause = []*pg_query.Node{
			sqlast.MakeSortBy(sqlast.MakeIntegerConst(1), pg_query.SortByDir_SORTBY_ASC),
		}
		return &OrderMeta{Strategy: OrderDistinctFirst, Expression: "1 ASC"}
	}

	tables := sqlast.TablesInFrom(sel.FromClause, cteNames)
	if target, ok := r.pickOrderTable(tables); ok {
		if meta := r.orderByHeuristicColumn(ctx, sel, target); meta != nil {
			return meta
		}
	}

	sel.SortClause = []*pg_query.Node{
		sqlast.MakeSortBy(sqlast.MakeIntegerConst(1), pg_query.SortByDir_SORTBY_ASC),
	}
	return &OrderMeta{Strategy: OrderFallbackFirst, Expression: "1 ASC"}
}

// pickOrderTable chooses the first tenant-required table in FROM order,
// falling back to the first referenced table.
func (r *rewriter) pickOrderTable(tables []sqlast.TableRef) (sqlast.TableRef, bool) {
	if len(tables) == 0 {
		return sqlast.TableRef{}, false
	}
	for _, t := range tables {
		if r.tenantRequired[strings.ToLower(t.Qualified())] {
			return t, true
		}
	}
	return tables[0], true
}

// orderColumnPriority is the fixed candidate list for heuristic ordering.
var orderColumnPriority = []struct {
	column string
	dir    pg_query.SortByDir
	label  string
}{
	{"created_at", pg_query.SortByDir_SORTBY_DESC, "DESC"},
	{"issued_on", pg_query.SortByDir_SORTBY_DESC, "DESC"},
	{"updated_at", pg_query.SortByDir_SORTBY_DESC, "DESC"},
	{"date", pg_query.SortByDir_SORTBY_DESC, "DESC"},
	{"id", pg_query.SortByDir_SORTBY_ASC, "ASC"},
}

func (r *rewriter) orderByHeuristicColumn(ctx context.Context, sel *pg_query.SelectStmt, table sqlast.TableRef) *OrderMeta {
	columns, _ := r.catalog.FilteredColumns(ctx, table.Schema, table.Name)
	if len(columns) == 0 {
		return nil
	}
	available := make(map[string]bool, len(columns))
	for _, col := range columns {
		available[strings.ToLower(col.Name)] = true
	}

	for _, cand := range orderColumnPriority {
		if !available[cand.column] {
			continue
		}
		qualifier := table.Qualifier()
		sel.SortClause = []*pg_query.Node{
			sqlast.MakeSortBy(sqlast.MakeColumnRef(qualifier, cand.column), cand.dir),
		}
		return &OrderMeta{
			Strategy:   OrderTenantHeuristic,
			Expression: qualifier + "." + cand.column + " " + cand.label,
		}
	}
	return nil
}

// columnAlias builds the output alias for an expanded column: qualifier and
// column joined by underscore, lowercased, non [a-z0-9_] characters mapped
// to underscore, runs collapsed, edges trimmed.
func columnAlias(qualifier, column string) string {
	raw := strings.ToLower(qualifier + "_" + column)
	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false
	for _, c := range raw {
		ok := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !ok {
			if lastUnderscore {
				continue
			}
			b.WriteByte('_')
			lastUnderscore = true
			continue
		}
		b.WriteRune(c)
		lastUnderscore = false
	}
	return strings.Trim(b.String(), "_")
}

// exprText renders a short audit label for an ORDER BY expression.
func exprText(node *pg_query.Node) string {
	switch n := node.Node.(type) {
	case *pg_query.Node_ColumnRef:
		var parts []string
		for _, f := range n.ColumnRef.Fields {
			if s, ok := f.Node.(*pg_query.Node_String_); ok {
				parts = append(parts, s.String_.Sval)
			}
		}
		return strings.Join(parts, ".")
	case *pg_query.Node_AConst:
		if iv, ok := n.AConst.Val.(*pg_query.A_Const_Ival); ok {
			return strconv.Itoa(int(iv.Ival.Ival))
		}
	}
	return "expr"
}
