package valueindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	minhashlsh "github.com/ekzhu/minhash-lsh"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	defaultThreshold = 0.4
	defaultNumPerm   = 128
	defaultShingleK  = 4

	minhashSeed = 1
)

// FieldRef identifies a table column known to contain values similar to a
// queried literal.
type FieldRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Profile is one column's sampled values, loaded from column_profiles.
type Profile struct {
	ID      int64
	Table   string
	Column  string
	Samples []string
}

// Querier is the subset of pgxpool.Pool needed to load column profiles.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Index is an in-memory MinHash LSH over per-column value samples. A literal
// lookup answers "which columns likely contain this value". Candidate order
// is not meaningful.
type Index struct {
	mu        sync.RWMutex
	threshold float64
	numPerm   int
	shingleK  int

	lsh    *minhashlsh.MinhashLSH
	fields map[string]FieldRef
	built  bool

	db     Querier
	logger *zap.Logger
}

// NewIndex creates an empty index with the default MinHash parameters.
// Build or BuildFromProfiles must run before lookups return anything.
func NewIndex(db Querier, logger *zap.Logger) *Index {
	return &Index{
		threshold: defaultThreshold,
		numPerm:   defaultNumPerm,
		shingleK:  defaultShingleK,
		fields:    make(map[string]FieldRef),
		db:        db,
		logger:    logger.Named("valueindex"),
	}
}

const profilesQuery = `
SELECT id, table_name, column_name, top_k_values, distinct_sample
FROM column_profiles
WHERE top_k_values IS NOT NULL OR distinct_sample IS NOT NULL`

// Build loads every sampled column profile and rebuilds the index.
func (idx *Index) Build(ctx context.Context) error {
	rows, err := idx.db.Query(ctx, profilesQuery)
	if err != nil {
		return fmt.Errorf("query column profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var (
			id            int64
			table, column string
			topK, sample  []byte
		)
		if err := rows.Scan(&id, &table, &column, &topK, &sample); err != nil {
			return fmt.Errorf("scan column profile: %w", err)
		}
		samples := parseSamples(topK, sample)
		if len(samples) == 0 {
			continue
		}
		profiles = append(profiles, Profile{ID: id, Table: table, Column: column, Samples: samples})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read column profiles: %w", err)
	}

	idx.BuildFromProfiles(profiles)
	return nil
}

// BuildFromProfiles rebuilds the index from already-loaded profiles,
// replacing any previous contents.
func (idx *Index) BuildFromProfiles(profiles []Profile) {
	lsh := minhashlsh.NewMinhashLSH16(idx.numPerm, idx.threshold, len(profiles))
	fields := make(map[string]FieldRef, len(profiles))

	for _, p := range profiles {
		if len(p.Samples) == 0 {
			continue
		}
		key := strconv.FormatInt(p.ID, 10)
		lsh.Add(key, idx.signature(p.Samples))
		fields[key] = FieldRef{Table: p.Table, Column: p.Column}
	}
	lsh.Index()

	idx.mu.Lock()
	idx.lsh = lsh
	idx.fields = fields
	idx.built = true
	idx.mu.Unlock()

	idx.logger.Info("value index built", zap.Int("columns", len(fields)))
}

// IsBuilt reports whether the index holds data.
func (idx *Index) IsBuilt() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.built
}

// LookupLiteral returns the columns likely to contain the literal. Before the
// index is built, or for blank literals, it returns nothing.
func (idx *Index) LookupLiteral(literal string) []FieldRef {
	if strings.TrimSpace(literal) == "" {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.built {
		idx.logger.Warn("value index queried before build")
		return nil
	}

	keys := idx.lsh.Query(idx.signature([]string{literal}))
	refs := make([]FieldRef, 0, len(keys))
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if ref, ok := idx.fields[key]; ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// signature computes a MinHash signature over the k-shingles of all values.
func (idx *Index) signature(values []string) []uint64 {
	m := minhashlsh.NewMinhash(minhashSeed, idx.numPerm)
	for _, v := range values {
		for _, sh := range shingles(v, idx.shingleK) {
			m.Push([]byte(sh))
		}
	}
	return m.Signature()
}

// shingles returns the k-character shingles of the trimmed, lowercased value.
// Values shorter than k yield the value itself.
func shingles(s string, k int) []string {
	runes := []rune(strings.ToLower(strings.TrimSpace(s)))
	if len(runes) < k {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-k+1)
	for i := 0; i+k <= len(runes); i++ {
		out = append(out, string(runes[i:i+k]))
	}
	return out
}

// parseSamples merges the top_k_values and distinct_sample JSON arrays into
// plain strings. top_k_values entries may be {"value": ..., "count": ...}
// objects or bare scalars.
func parseSamples(topK, sample []byte) []string {
	var out []string

	if len(topK) > 0 {
		var entries []any
		if err := json.Unmarshal(topK, &entries); err == nil {
			for _, e := range entries {
				if obj, ok := e.(map[string]any); ok {
					if v, ok := obj["value"]; ok {
						if s := stringify(v); s != "" {
							out = append(out, s)
						}
					}
					continue
				}
				if s := stringify(e); s != "" {
					out = append(out, s)
				}
			}
		}
	}

	if len(sample) > 0 {
		var entries []any
		if err := json.Unmarshal(sample, &entries); err == nil {
			for _, e := range entries {
				if s := stringify(e); s != "" {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
