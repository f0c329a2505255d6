package linking

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/llm"
)

// literalHitRank sorts literal-matched columns after every vector-ranked one.
const literalHitRank = 1 << 30

const literalMatchLimit = 20

// Variant is one rendered prompt: a schema slice and detail level plus the
// messages ready to send.
type Variant struct {
	Name     string
	Schema   SchemaKind
	Profile  ProfileKind
	Messages []llm.Message
	Preview  ContextPreview
}

// ContextPreview summarizes what went into a variant's context, for
// debugging and audit.
type ContextPreview struct {
	TableCount int            `json:"table_count"`
	Tables     []TablePreview `json:"tables"`
}

// TablePreview is one table's contribution to a context preview. Entity is
// the singularized table name, for display in audit output.
type TablePreview struct {
	Name    string   `json:"name"`
	Entity  string   `json:"entity"`
	Alias   string   `json:"alias"`
	Columns []string `json:"columns"`
}

// VariantSet holds the five prompt variants built for one question.
type VariantSet struct {
	Question string
	Variants []Variant
}

// VariantBuilder assembles the five prompt variants for a question: the
// cross product of {focused, full} schema and {minimal, maximal} detail,
// plus (focused, full_profile).
type VariantBuilder struct {
	store    ProfileStore
	embedder llm.Embedder
	cfg      config.LinkingConfig
	logger   *zap.Logger
}

// NewVariantBuilder creates a builder over the given profile store.
func NewVariantBuilder(store ProfileStore, embedder llm.Embedder, cfg config.LinkingConfig, logger *zap.Logger) *VariantBuilder {
	return &VariantBuilder{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.Named("linking"),
	}
}

var variantCombos = []struct {
	schema  SchemaKind
	profile ProfileKind
}{
	{SchemaFocused, ProfileMinimal},
	{SchemaFocused, ProfileMaximal},
	{SchemaFull, ProfileMinimal},
	{SchemaFull, ProfileMaximal},
	{SchemaFocused, ProfileFullProfile},
}

// BuildVariants builds the five prompt variants for the question.
func (b *VariantBuilder) BuildVariants(ctx context.Context, question string) (*VariantSet, error) {
	focused, err := b.focusedSchema(ctx, question)
	if err != nil {
		return nil, err
	}
	full, err := b.fullSchema(ctx)
	if err != nil {
		return nil, err
	}

	set := &VariantSet{Question: question}
	for _, combo := range variantCombos {
		tables := focused
		if combo.schema == SchemaFull {
			tables = full
		}
		contextText := renderContext(tables, combo.profile)

		preview := ContextPreview{TableCount: len(tables)}
		for _, t := range tables {
			tp := TablePreview{Name: t.Name, Entity: inflection.Singular(t.Name), Alias: t.Alias}
			for _, c := range t.Columns {
				tp.Columns = append(tp.Columns, c.Name)
			}
			preview.Tables = append(preview.Tables, tp)
		}

		set.Variants = append(set.Variants, Variant{
			Name:    string(combo.schema) + "_" + string(combo.profile),
			Schema:  combo.schema,
			Profile: combo.profile,
			Messages: []llm.Message{
				llm.SystemMessage(SystemRules),
				llm.AssistantMessage(contextText),
				llm.UserMessage("Question:\n" + question),
			},
			Preview: preview,
		})
	}
	return set, nil
}

// rankedProfile is a column profile plus its position in the vector search
// and whether a question literal matched its sampled values.
type rankedProfile struct {
	ColumnProfile
	rank       int
	literalHit bool
}

type tableKey struct {
	database string
	table    string
}

// focusedSchema builds the focused schema: the top columns by embedding
// similarity, bumped by columns whose sampled values contain a literal from
// the question, capped per table and in table count.
func (b *VariantBuilder) focusedSchema(ctx context.Context, question string) ([]TableContext, error) {
	embeddings, err := b.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty question embedding")
	}

	profiles, err := b.store.TopColumnsByEmbedding(ctx, embeddings[0], b.cfg.TopColumns)
	if err != nil {
		return nil, err
	}

	byTable := make(map[tableKey][]rankedProfile)
	var tableOrder []tableKey
	addProfile := func(p rankedProfile) {
		key := tableKey{p.DatabaseName, p.TableName}
		if _, ok := byTable[key]; !ok {
			tableOrder = append(tableOrder, key)
		}
		byTable[key] = append(byTable[key], p)
	}
	for i, p := range profiles {
		addProfile(rankedProfile{ColumnProfile: p, rank: i})
	}

	// Literal bump: columns whose top_k_values contain a question literal
	// join the candidate pool and promote their tables.
	literalTables := make(map[tableKey]bool)
	for _, lit := range QuestionLiterals(question) {
		matches, err := b.store.ProfilesMatchingLiteral(ctx, lit, literalMatchLimit)
		if err != nil {
			b.logger.Warn("literal match lookup failed", zap.String("literal", lit), zap.Error(err))
			continue
		}
		for _, p := range matches {
			literalTables[tableKey{p.DatabaseName, p.TableName}] = true
			addProfile(rankedProfile{ColumnProfile: p, rank: literalHitRank, literalHit: true})
		}
	}

	// Pick tables: literal-hit tables first, then by best vector rank.
	bestRank := func(key tableKey) int {
		best := literalHitRank
		for _, p := range byTable[key] {
			if p.rank < best {
				best = p.rank
			}
		}
		return best
	}
	sort.SliceStable(tableOrder, func(i, j int) bool {
		li, lj := literalTables[tableOrder[i]], literalTables[tableOrder[j]]
		if li != lj {
			return li
		}
		return bestRank(tableOrder[i]) < bestRank(tableOrder[j])
	})
	if len(tableOrder) > b.cfg.MaxTables {
		tableOrder = tableOrder[:b.cfg.MaxTables]
	}

	var tables []TableContext
	usedAliases := make(map[string]bool)
	for _, key := range tableOrder {
		cols := byTable[key]
		sort.SliceStable(cols, func(i, j int) bool {
			if cols[i].literalHit != cols[j].literalHit {
				return cols[i].literalHit
			}
			return cols[i].rank < cols[j].rank
		})

		seen := make(map[string]bool)
		var picked []rankedProfile
		for _, p := range cols {
			if seen[p.ColumnName] {
				continue
			}
			seen[p.ColumnName] = true
			picked = append(picked, p)
			if len(picked) >= b.cfg.MaxColumnsPerTable {
				break
			}
		}

		tables = append(tables, TableContext{
			Name:    key.table,
			Alias:   makeAlias(key.table, usedAliases),
			Columns: b.columnContexts(picked),
		})
	}
	return tables, nil
}

// fullSchema builds one TableContext per profiled table with every column.
func (b *VariantBuilder) fullSchema(ctx context.Context) ([]TableContext, error) {
	profiles, err := b.store.AllProfiles(ctx)
	if err != nil {
		return nil, err
	}

	byTable := make(map[tableKey][]rankedProfile)
	var tableOrder []tableKey
	for _, p := range profiles {
		key := tableKey{p.DatabaseName, p.TableName}
		if _, ok := byTable[key]; !ok {
			tableOrder = append(tableOrder, key)
		}
		byTable[key] = append(byTable[key], rankedProfile{ColumnProfile: p})
	}

	var tables []TableContext
	usedAliases := make(map[string]bool)
	for _, key := range tableOrder {
		tables = append(tables, TableContext{
			Name:    key.table,
			Alias:   makeAlias(key.table, usedAliases),
			Columns: b.columnContexts(byTable[key]),
		})
	}
	return tables, nil
}

func (b *VariantBuilder) columnContexts(profiles []rankedProfile) []ColumnContext {
	cols := make([]ColumnContext, 0, len(profiles))
	for _, p := range profiles {
		long := p.LongSummary
		if b.cfg.TrimLongSummaries {
			long = trimLongSummary(p.LongSummary, p.TopKValues)
		}
		cols = append(cols, ColumnContext{
			Name:               p.ColumnName,
			ShortSummary:       p.ShortSummary,
			LongSummary:        long,
			EnglishDescription: p.EnglishDescription,
		})
	}
	return cols
}

// trimLongSummary keeps long summaries concise: the summary text plus up to
// three example values.
func trimLongSummary(longSummary string, topK []byte) string {
	if longSummary == "" {
		return ""
	}
	examples := topKExamples(topK, 3)
	if len(examples) == 0 {
		return longSummary
	}
	out := longSummary + "\nCommon values include: " + examples[0]
	for _, e := range examples[1:] {
		out += ", " + e
	}
	return out + "."
}

var questionLiteralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{4}\b`),               // year range like 2020-2021
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),         // ISO date
	regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*(?:\.\d+)?\b`), // numbers with thousands/decimals
	regexp.MustCompile("[‘'“\"]([^’'”\"]+)[’'”\"]"),     // quoted strings
}

// QuestionLiterals pulls candidate filter literals out of a natural-language
// question: dates, year ranges, numbers and quoted phrases.
func QuestionLiterals(question string) []string {
	seen := make(map[string]bool)
	var out []string
	for i, pat := range questionLiteralPatterns {
		for _, m := range pat.FindAllStringSubmatch(question, -1) {
			val := m[0]
			if i == len(questionLiteralPatterns)-1 {
				val = m[1]
			}
			val = strings.TrimSpace(val)
			if val != "" && !seen[val] {
				seen[val] = true
				out = append(out, val)
			}
		}
	}
	return out
}
