package linking

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lexitau/lexitau-engine/pkg/sqlast"
)

// ExtractFieldsAndLiterals parses generated SQL and returns the qualified
// (table, column) pairs it references, with aliases resolved back to table
// names, plus the literal values it compares against. Unqualified columns
// are skipped since they cannot be attributed to a table reliably.
func ExtractFieldsAndLiterals(sql string) (map[Field]bool, []string, error) {
	positional, _ := sqlast.ToPositional(sql)
	result, err := sqlast.Parse(positional)
	if err != nil {
		return nil, nil, err
	}

	aliasToTable := aliasMap(result)

	fields := make(map[Field]bool)
	literals := make(map[string]bool)
	var literalOrder []string

	sqlast.WalkResult(result, func(node *pg_query.Node) bool {
		switch n := node.Node.(type) {
		case *pg_query.Node_ColumnRef:
			if f, ok := columnField(n.ColumnRef, aliasToTable); ok {
				fields[f] = true
			}
		case *pg_query.Node_AConst:
			if lit, ok := constLiteral(n.AConst); ok {
				lit = normalizeLiteral(lit)
				if lit != "" && !literals[lit] {
					literals[lit] = true
					literalOrder = append(literalOrder, lit)
				}
			}
		}
		return true
	})

	return fields, literalOrder, nil
}

// aliasMap maps every alias (or bare table name) to its base table name
// across the whole statement, including subqueries and CTE bodies.
func aliasMap(result *pg_query.ParseResult) map[string]string {
	out := make(map[string]string)
	for _, raw := range result.Stmts {
		sqlast.Walk(raw.Stmt, func(node *pg_query.Node) bool {
			rv, ok := node.Node.(*pg_query.Node_RangeVar)
			if !ok {
				return true
			}
			name := rv.RangeVar.Relname
			if name == "" {
				return true
			}
			if rv.RangeVar.Alias != nil && rv.RangeVar.Alias.Aliasname != "" {
				out[rv.RangeVar.Alias.Aliasname] = name
			}
			if _, exists := out[name]; !exists {
				out[name] = name
			}
			return true
		})
	}
	return out
}

func columnField(ref *pg_query.ColumnRef, aliasToTable map[string]string) (Field, bool) {
	if len(ref.Fields) < 2 {
		return Field{}, false
	}
	parts := make([]string, 0, len(ref.Fields))
	for _, f := range ref.Fields {
		s, ok := f.Node.(*pg_query.Node_String_)
		if !ok {
			return Field{}, false
		}
		parts = append(parts, s.String_.Sval)
	}

	// schema.table.column keeps only the last two parts.
	qualifier := parts[len(parts)-2]
	column := parts[len(parts)-1]
	table := qualifier
	if resolved, ok := aliasToTable[qualifier]; ok {
		table = resolved
	}
	return Field{Table: table, Column: column}, true
}

func constLiteral(c *pg_query.A_Const) (string, bool) {
	switch v := c.Val.(type) {
	case *pg_query.A_Const_Sval:
		return v.Sval.Sval, true
	case *pg_query.A_Const_Ival:
		return strconv.FormatInt(int64(v.Ival.Ival), 10), true
	case *pg_query.A_Const_Fval:
		return v.Fval.Fval, true
	default:
		return "", false
	}
}

// normalizeLiteral trims quotes and whitespace and folds en dashes so
// lookups match indexed values.
func normalizeLiteral(lit string) string {
	s := strings.TrimSpace(lit)
	s = strings.Trim(s, `'"`)
	s = strings.ReplaceAll(s, "–", "-")
	return s
}
