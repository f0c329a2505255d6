package linking

import (
	"strconv"
	"strings"
)

// SchemaKind selects which slice of the schema a prompt variant carries.
type SchemaKind string

// ProfileKind selects how much per-column detail a prompt variant carries.
type ProfileKind string

const (
	SchemaFocused SchemaKind = "focused"
	SchemaFull    SchemaKind = "full"

	ProfileMinimal     ProfileKind = "minimal"
	ProfileMaximal     ProfileKind = "maximal"
	ProfileFullProfile ProfileKind = "full_profile"
)

// SystemRules is the system message for every SQL-generation prompt.
const SystemRules = `You are an expert data analyst who writes safe, correct PostgreSQL.
Rules:
- Read-only: SELECT queries only. Never write DDL/DML (no CREATE/INSERT/UPDATE/DELETE/TRUNCATE).
- Use only the tables and columns provided in CONTEXT. If something is not in CONTEXT, do not use it.
- Qualify columns with table aliases. Use explicit JOINs.
- Choose literals that match the column formats/examples in LONG SUMMARIES (e.g., 'YYYY-YYYY', ISO dates).
- Prefer standard SQL; avoid vendor-specific functions unless necessary for PostgreSQL.
- If multiple interpretations are possible, choose the most likely reading from the given CONTEXT.
- Output SQL only. No explanations, comments, or markdown.
`

// ColumnContext is one column's prompt-facing description.
type ColumnContext struct {
	Name               string
	ShortSummary       string
	LongSummary        string
	EnglishDescription string
}

// TableContext is one table plus the columns chosen for the prompt.
type TableContext struct {
	Name    string
	Alias   string
	Columns []ColumnContext
}

// renderContext renders the assistant-context block that precedes the user
// message. Minimal lists short summaries only; maximal adds a LONG SUMMARIES
// section; full_profile adds descriptions and long summaries together.
func renderContext(tables []TableContext, profile ProfileKind) string {
	var lines []string
	lines = append(lines, "CONTEXT START\n")
	lines = append(lines, "DATABASE DIALECT: PostgreSQL\n")
	lines = append(lines, "TABLES & COLUMNS")
	for _, t := range tables {
		lines = append(lines, "Table "+t.Name+" AS "+t.Alias)
		for _, c := range t.Columns {
			lines = append(lines, "  - "+t.Alias+"."+c.Name+": "+c.ShortSummary)
		}
	}

	if profile == ProfileMaximal || profile == ProfileFullProfile {
		header := "LONG SUMMARIES"
		if profile == ProfileFullProfile {
			header = "FULL PROFILE (SME + long)"
		}
		lines = append(lines, "\n"+header)
		for _, t := range tables {
			for _, c := range t.Columns {
				if profile == ProfileMaximal {
					lines = append(lines, "- "+t.Alias+"."+c.Name+":\n  "+c.LongSummary)
					continue
				}
				var parts []string
				if c.EnglishDescription != "" {
					parts = append(parts, c.EnglishDescription)
				}
				if c.LongSummary != "" {
					parts = append(parts, c.LongSummary)
				}
				lines = append(lines, "- "+t.Alias+"."+c.Name+":\n  "+strings.Join(parts, "\n  "))
			}
		}
	}

	lines = append(lines,
		"\nHINTS",
		"- Use only the tables/columns above.",
		"- Literal formats must match LONG SUMMARIES (e.g., 'YYYY-YYYY' for academic years).",
		"- If a filter literal is needed, prefer values that appear in the examples.",
		"\nCONTEXT END",
	)
	return strings.Join(lines, "\n")
}

// makeAlias generates a short table alias unique within used, like "do",
// "do1", "do2".
func makeAlias(tableName string, used map[string]bool) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tableName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= 2 {
				break
			}
		}
	}
	base := b.String()
	if base == "" {
		base = "t"
	}
	if !used[base] {
		used[base] = true
		return base
	}
	for i := 1; ; i++ {
		alias := base + strconv.Itoa(i)
		if !used[alias] {
			used[alias] = true
			return alias
		}
	}
}
