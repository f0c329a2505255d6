package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Field is a (table, column) pair referenced by generated SQL.
type Field struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ColumnProfile is one row of the column_profiles table: a profiled column
// with summaries and sampled values.
type ColumnProfile struct {
	ID                 int64
	DatabaseName       string
	TableName          string
	ColumnName         string
	ShortSummary       string
	LongSummary        string
	EnglishDescription string
	TopKValues         []byte
}

// ProfileStore loads column profiles for prompt-context assembly.
type ProfileStore interface {
	// TopColumnsByEmbedding returns the m profiles closest to the question
	// embedding, nearest first.
	TopColumnsByEmbedding(ctx context.Context, embedding []float32, m int) ([]ColumnProfile, error)

	// AllProfiles returns every profile ordered by database, table, column.
	AllProfiles(ctx context.Context) ([]ColumnProfile, error)

	// ProfilesMatchingLiteral returns profiles whose sampled values contain
	// the literal as a substring.
	ProfilesMatchingLiteral(ctx context.Context, literal string, limit int) ([]ColumnProfile, error)

	// ProfilesForFields returns the profiles for the given (table, column)
	// pairs. Unknown pairs are silently absent from the result.
	ProfilesForFields(ctx context.Context, fields []Field) ([]ColumnProfile, error)
}

// Querier is the subset of pgxpool.Pool needed by the profile store.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type profileStore struct {
	db     Querier
	logger *zap.Logger
}

// NewProfileStore creates a ProfileStore backed by the column_profiles table.
func NewProfileStore(db Querier, logger *zap.Logger) ProfileStore {
	return &profileStore{db: db, logger: logger.Named("profiles")}
}

const profileColumns = `id, database_name, table_name, column_name,
       COALESCE(short_summary, ''), COALESCE(long_summary, ''),
       COALESCE(english_description, ''), top_k_values`

func (s *profileStore) TopColumnsByEmbedding(ctx context.Context, embedding []float32, m int) ([]ColumnProfile, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM column_profiles
WHERE vector_embedding IS NOT NULL
ORDER BY vector_embedding <-> $1::vector
LIMIT $2`, profileColumns)

	rows, err := s.db.Query(ctx, query, vectorLiteral(embedding), m)
	if err != nil {
		return nil, fmt.Errorf("vector search column profiles: %w", err)
	}
	return scanProfiles(rows)
}

func (s *profileStore) AllProfiles(ctx context.Context) ([]ColumnProfile, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM column_profiles
ORDER BY database_name, table_name, column_name`, profileColumns)

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load column profiles: %w", err)
	}
	return scanProfiles(rows)
}

func (s *profileStore) ProfilesMatchingLiteral(ctx context.Context, literal string, limit int) ([]ColumnProfile, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM column_profiles
WHERE top_k_values IS NOT NULL
  AND (
    (jsonb_typeof(top_k_values::jsonb) = 'array' AND EXISTS (
        SELECT 1
        FROM jsonb_array_elements(top_k_values::jsonb) AS kv
        WHERE (kv->>'value') ILIKE $1
           OR kv::text ILIKE $1
    ))
    OR
    (jsonb_typeof(top_k_values::jsonb) != 'array' AND top_k_values::text ILIKE $1)
  )
LIMIT $2`, profileColumns)

	rows, err := s.db.Query(ctx, query, "%"+literal+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("literal search column profiles: %w", err)
	}
	return scanProfiles(rows)
}

func (s *profileStore) ProfilesForFields(ctx context.Context, fields []Field) ([]ColumnProfile, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)*2)
	for i, f := range fields {
		clauses = append(clauses, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, f.Table, f.Column)
	}

	query := fmt.Sprintf(`
SELECT %s
FROM column_profiles
WHERE (table_name, column_name) IN (VALUES %s)`, profileColumns, strings.Join(clauses, ", "))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load column profiles for fields: %w", err)
	}
	return scanProfiles(rows)
}

func scanProfiles(rows pgx.Rows) ([]ColumnProfile, error) {
	defer rows.Close()

	var out []ColumnProfile
	for rows.Next() {
		var p ColumnProfile
		if err := rows.Scan(&p.ID, &p.DatabaseName, &p.TableName, &p.ColumnName,
			&p.ShortSummary, &p.LongSummary, &p.EnglishDescription, &p.TopKValues); err != nil {
			return nil, fmt.Errorf("scan column profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read column profiles: %w", err)
	}
	return out, nil
}

// vectorLiteral renders an embedding in pgvector's input syntax.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// topKExamples returns up to n sample values from a top_k_values JSON array.
// Entries may be {"value": ...} objects or bare scalars.
func topKExamples(topK []byte, n int) []string {
	if len(topK) == 0 {
		return nil
	}
	var entries []any
	if err := json.Unmarshal(topK, &entries); err != nil {
		return nil
	}

	var out []string
	for _, e := range entries {
		if len(out) >= n {
			break
		}
		v := e
		if obj, ok := e.(map[string]any); ok {
			inner, ok := obj["value"]
			if !ok {
				continue
			}
			v = inner
		}
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(t))
		case nil:
		default:
			out = append(out, fmt.Sprintf("%v", t))
		}
	}
	return out
}
