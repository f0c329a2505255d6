package sqlast

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// IsSetOperation reports whether a SELECT is itself a UNION/INTERSECT/EXCEPT
// at its own level. Set operations inside CTE bodies or subqueries do not
// count; callers that want those check the nested statements themselves.
func IsSetOperation(sel *pg_query.SelectStmt) bool {
	return sel != nil && sel.Op != pg_query.SetOperation_SETOP_NONE
}

// HasRecursiveCTE reports whether any WITH clause in the parse result is
// declared RECURSIVE.
func HasRecursiveCTE(result *pg_query.ParseResult) bool {
	found := false
	WalkSelects(result, func(sel *pg_query.SelectStmt) {
		if sel.WithClause != nil && sel.WithClause.Recursive {
			found = true
		}
	})
	return found
}

// HasLateral reports whether any LATERAL subquery or LATERAL function call
// appears anywhere in the tree.
func HasLateral(result *pg_query.ParseResult) bool {
	found := false
	WalkResult(result, func(node *pg_query.Node) bool {
		switch n := node.Node.(type) {
		case *pg_query.Node_RangeSubselect:
			if n.RangeSubselect.Lateral {
				found = true
				return false
			}
		case *pg_query.Node_RangeFunction:
			if n.RangeFunction.Lateral {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// CollectFunctionNames returns the lowercased unqualified name of every
// function call in the tree, in encounter order, deduplicated. Qualified
// calls (pg_catalog.pg_sleep) report only the final segment.
func CollectFunctionNames(result *pg_query.ParseResult) []string {
	seen := make(map[string]bool)
	var names []string

	WalkResult(result, func(node *pg_query.Node) bool {
		fc, ok := node.Node.(*pg_query.Node_FuncCall)
		if !ok {
			return true
		}
		name := funcCallName(fc.FuncCall)
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return true
	})

	return names
}

func funcCallName(fc *pg_query.FuncCall) string {
	if len(fc.Funcname) == 0 {
		return ""
	}
	last := fc.Funcname[len(fc.Funcname)-1]
	s, ok := last.Node.(*pg_query.Node_String_)
	if !ok {
		return ""
	}
	return strings.ToLower(s.String_.Sval)
}
