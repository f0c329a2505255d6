// Package sqlast wraps the PostgreSQL parser (pg_query_go) with the
// traversal, inspection and mutation helpers the guard pipeline needs:
// named-parameter handling, table-reference extraction, feature detection
// and WHERE/ON predicate construction.
package sqlast

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Parse parses SQL into a PostgreSQL parse tree. Named `:name` placeholders
// must already be rewritten to positional form (see ToPositional).
func Parse(sql string) (*pg_query.ParseResult, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse SQL: %w", err)
	}
	return result, nil
}

// Deparse renders a parse tree back to SQL text.
func Deparse(result *pg_query.ParseResult) (string, error) {
	sql, err := pg_query.Deparse(result)
	if err != nil {
		return "", fmt.Errorf("deparse SQL: %w", err)
	}
	return sql, nil
}

// SingleSelect returns the sole SELECT statement of a parse result, or
// (nil, false) when the input is not exactly one SELECT.
func SingleSelect(result *pg_query.ParseResult) (*pg_query.SelectStmt, bool) {
	if len(result.Stmts) != 1 {
		return nil, false
	}
	stmt := result.Stmts[0].Stmt
	if stmt == nil {
		return nil, false
	}
	sel, ok := stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return nil, false
	}
	return sel.SelectStmt, true
}

// WalkSelects visits every SELECT statement reachable from the parse result:
// top-level statements, set-operation branches, CTE bodies, FROM subselects
// and subqueries in expressions. Visit order is pre-order.
func WalkSelects(result *pg_query.ParseResult, visit func(*pg_query.SelectStmt)) {
	for _, stmt := range result.Stmts {
		walkSelectsInNode(stmt.Stmt, visit)
	}
}

func walkSelectsInNode(node *pg_query.Node, visit func(*pg_query.SelectStmt)) {
	if node == nil {
		return
	}
	if sel, ok := node.Node.(*pg_query.Node_SelectStmt); ok {
		walkSelectStmt(sel.SelectStmt, visit)
		return
	}
	for _, child := range childNodes(node) {
		walkSelectsInNode(child, visit)
	}
}

func walkSelectStmt(sel *pg_query.SelectStmt, visit func(*pg_query.SelectStmt)) {
	if sel == nil {
		return
	}
	visit(sel)

	if sel.Larg != nil {
		walkSelectStmt(sel.Larg, visit)
	}
	if sel.Rarg != nil {
		walkSelectStmt(sel.Rarg, visit)
	}
	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				walkSelectsInNode(c.CommonTableExpr.Ctequery, visit)
			}
		}
	}
	for _, from := range sel.FromClause {
		walkSelectsInNode(from, visit)
	}
	for _, target := range sel.TargetList {
		walkSelectsInNode(target, visit)
	}
	walkSelectsInNode(sel.WhereClause, visit)
	walkSelectsInNode(sel.HavingClause, visit)
	for _, g := range sel.GroupClause {
		walkSelectsInNode(g, visit)
	}
	for _, s := range sel.SortClause {
		walkSelectsInNode(s, visit)
	}
	walkSelectsInNode(sel.LimitCount, visit)
	walkSelectsInNode(sel.LimitOffset, visit)
}

// Walk visits node and every descendant reachable through the expression
// and FROM-clause structure, pre-order. The visitor returning false prunes
// the subtree.
func Walk(node *pg_query.Node, visit func(*pg_query.Node) bool) {
	if node == nil {
		return
	}
	if !visit(node) {
		return
	}
	if sel, ok := node.Node.(*pg_query.Node_SelectStmt); ok {
		for _, child := range selectChildren(sel.SelectStmt) {
			Walk(child, visit)
		}
		return
	}
	for _, child := range childNodes(node) {
		Walk(child, visit)
	}
}

// WalkResult walks every statement in a parse result.
func WalkResult(result *pg_query.ParseResult, visit func(*pg_query.Node) bool) {
	for _, stmt := range result.Stmts {
		Walk(stmt.Stmt, visit)
	}
}

func selectChildren(sel *pg_query.SelectStmt) []*pg_query.Node {
	if sel == nil {
		return nil
	}
	var children []*pg_query.Node
	if sel.Larg != nil {
		children = append(children, wrapSelect(sel.Larg))
	}
	if sel.Rarg != nil {
		children = append(children, wrapSelect(sel.Rarg))
	}
	if sel.WithClause != nil {
		children = append(children, sel.WithClause.Ctes...)
	}
	children = append(children, sel.DistinctClause...)
	children = append(children, sel.TargetList...)
	children = append(children, sel.FromClause...)
	children = append(children, sel.WhereClause)
	children = append(children, sel.GroupClause...)
	children = append(children, sel.HavingClause)
	children = append(children, sel.WindowClause...)
	children = append(children, sel.SortClause...)
	children = append(children, sel.LimitOffset, sel.LimitCount)
	for _, row := range sel.ValuesLists {
		children = append(children, row)
	}
	return children
}

func wrapSelect(sel *pg_query.SelectStmt) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}
}

// childNodes returns the traversable children of one parse-tree node.
// Node kinds that cannot occur inside a SELECT, or that carry no nested
// expressions, return nil.
func childNodes(node *pg_query.Node) []*pg_query.Node {
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return selectChildren(n.SelectStmt)
	case *pg_query.Node_RangeSubselect:
		return []*pg_query.Node{n.RangeSubselect.Subquery}
	case *pg_query.Node_RangeFunction:
		var children []*pg_query.Node
		children = append(children, n.RangeFunction.Functions...)
		return children
	case *pg_query.Node_JoinExpr:
		return []*pg_query.Node{n.JoinExpr.Larg, n.JoinExpr.Rarg, n.JoinExpr.Quals}
	case *pg_query.Node_CommonTableExpr:
		return []*pg_query.Node{n.CommonTableExpr.Ctequery}
	case *pg_query.Node_SubLink:
		return []*pg_query.Node{n.SubLink.Testexpr, n.SubLink.Subselect}
	case *pg_query.Node_BoolExpr:
		return n.BoolExpr.Args
	case *pg_query.Node_AExpr:
		return []*pg_query.Node{n.AExpr.Lexpr, n.AExpr.Rexpr}
	case *pg_query.Node_ResTarget:
		return []*pg_query.Node{n.ResTarget.Val}
	case *pg_query.Node_FuncCall:
		var children []*pg_query.Node
		children = append(children, n.FuncCall.Args...)
		children = append(children, n.FuncCall.AggOrder...)
		children = append(children, n.FuncCall.AggFilter)
		return children
	case *pg_query.Node_TypeCast:
		return []*pg_query.Node{n.TypeCast.Arg}
	case *pg_query.Node_CollateClause:
		return []*pg_query.Node{n.CollateClause.Arg}
	case *pg_query.Node_NullTest:
		return []*pg_query.Node{n.NullTest.Arg}
	case *pg_query.Node_BooleanTest:
		return []*pg_query.Node{n.BooleanTest.Arg}
	case *pg_query.Node_CaseExpr:
		var children []*pg_query.Node
		children = append(children, n.CaseExpr.Arg)
		children = append(children, n.CaseExpr.Args...)
		children = append(children, n.CaseExpr.Defresult)
		return children
	case *pg_query.Node_CaseWhen:
		return []*pg_query.Node{n.CaseWhen.Expr, n.CaseWhen.Result}
	case *pg_query.Node_CoalesceExpr:
		return n.CoalesceExpr.Args
	case *pg_query.Node_MinMaxExpr:
		return n.MinMaxExpr.Args
	case *pg_query.Node_RowExpr:
		return n.RowExpr.Args
	case *pg_query.Node_AArrayExpr:
		return n.AArrayExpr.Elements
	case *pg_query.Node_AIndirection:
		return []*pg_query.Node{n.AIndirection.Arg}
	case *pg_query.Node_SortBy:
		return []*pg_query.Node{n.SortBy.Node}
	case *pg_query.Node_WindowDef:
		var children []*pg_query.Node
		children = append(children, n.WindowDef.PartitionClause...)
		children = append(children, n.WindowDef.OrderClause...)
		return children
	case *pg_query.Node_GroupingSet:
		return n.GroupingSet.Content
	case *pg_query.Node_List:
		return n.List.Items
	case *pg_query.Node_NamedArgExpr:
		return []*pg_query.Node{n.NamedArgExpr.Arg}
	}
	return nil
}

// MakeStringNode wraps an identifier segment as a String node.
func MakeStringNode(s string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_String_{
			String_: &pg_query.String{Sval: s},
		},
	}
}

// MakeColumnRef creates a ColumnRef node. With a non-empty qualifier it
// produces qualifier.column, otherwise a bare column reference.
func MakeColumnRef(qualifier, column string) *pg_query.Node {
	var fields []*pg_query.Node
	if qualifier != "" {
		fields = append(fields, MakeStringNode(qualifier))
	}
	fields = append(fields, MakeStringNode(column))

	return &pg_query.Node{
		Node: &pg_query.Node_ColumnRef{
			ColumnRef: &pg_query.ColumnRef{
				Fields: fields,
			},
		},
	}
}

// MakeParamRef creates a positional parameter reference ($number).
func MakeParamRef(number int) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_ParamRef{
			ParamRef: &pg_query.ParamRef{Number: int32(number)},
		},
	}
}

// MakeIntegerConst creates an integer literal node.
func MakeIntegerConst(v int64) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Ival{
					Ival: &pg_query.Integer{Ival: int32(v)},
				},
			},
		},
	}
}

// MakeOpExpr creates an A_Expr node for a binary operator (e.g. "=").
func MakeOpExpr(op string, left, right *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AExpr{
			AExpr: &pg_query.A_Expr{
				Kind:  pg_query.A_Expr_Kind_AEXPR_OP,
				Name:  []*pg_query.Node{MakeStringNode(op)},
				Lexpr: left,
				Rexpr: right,
			},
		},
	}
}

// MakeResTarget creates a projection item with an optional output alias.
func MakeResTarget(name string, val *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_ResTarget{
			ResTarget: &pg_query.ResTarget{
				Name: name,
				Val:  val,
			},
		},
	}
}

// MakeSortBy creates an ORDER BY item for expr with the given direction.
func MakeSortBy(expr *pg_query.Node, dir pg_query.SortByDir) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_SortBy{
			SortBy: &pg_query.SortBy{
				Node:        expr,
				SortbyDir:   dir,
				SortbyNulls: pg_query.SortByNulls_SORTBY_NULLS_DEFAULT,
			},
		},
	}
}

// CombineWithAnd combines expressions into a single BoolExpr AND.
// A single expression is returned directly.
func CombineWithAnd(exprs []*pg_query.Node) *pg_query.Node {
	if len(exprs) == 0 {
		return nil
	}
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &pg_query.Node{
		Node: &pg_query.Node_BoolExpr{
			BoolExpr: &pg_query.BoolExpr{
				Boolop: pg_query.BoolExprType_AND_EXPR,
				Args:   exprs,
			},
		},
	}
}

// MakeAndExpr creates a BoolExpr AND of two expressions, flattening sides
// that are already AND lists.
func MakeAndExpr(left, right *pg_query.Node) *pg_query.Node {
	var args []*pg_query.Node

	if be, ok := left.Node.(*pg_query.Node_BoolExpr); ok && be.BoolExpr.Boolop == pg_query.BoolExprType_AND_EXPR {
		args = append(args, be.BoolExpr.Args...)
	} else {
		args = append(args, left)
	}

	if be, ok := right.Node.(*pg_query.Node_BoolExpr); ok && be.BoolExpr.Boolop == pg_query.BoolExprType_AND_EXPR {
		args = append(args, be.BoolExpr.Args...)
	} else {
		args = append(args, right)
	}

	return &pg_query.Node{
		Node: &pg_query.Node_BoolExpr{
			BoolExpr: &pg_query.BoolExpr{
				Boolop: pg_query.BoolExprType_AND_EXPR,
				Args:   args,
			},
		},
	}
}

// IsStarTarget reports whether a projection item is the unqualified `*`.
// Qualified stars (alias.*) return false.
func IsStarTarget(target *pg_query.Node) bool {
	rt, ok := target.Node.(*pg_query.Node_ResTarget)
	if !ok || rt.ResTarget.Val == nil {
		return false
	}
	cr, ok := rt.ResTarget.Val.Node.(*pg_query.Node_ColumnRef)
	if !ok || len(cr.ColumnRef.Fields) != 1 {
		return false
	}
	_, isStar := cr.ColumnRef.Fields[0].Node.(*pg_query.Node_AStar)
	return isStar
}

// HasStarProjection reports whether any top-level projection item of sel
// is the unqualified `*` wildcard.
func HasStarProjection(sel *pg_query.SelectStmt) bool {
	for _, target := range sel.TargetList {
		if IsStarTarget(target) {
			return true
		}
	}
	return false
}
