package linking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/llm"
	"github.com/lexitau/lexitau-engine/pkg/tenantscope"
	"github.com/lexitau/lexitau-engine/pkg/valueindex"
)

// LiteralIndex answers which columns likely contain a literal value.
// *valueindex.Index satisfies it.
type LiteralIndex interface {
	IsBuilt() bool
	LookupLiteral(literal string) []valueindex.FieldRef
}

// Result is the outcome of one linking run: the final SQL (tenant scoping
// already enforced) and every (table, column) pair the candidates touched.
type Result struct {
	SQL    string
	Fields []Field
	// Previews records what schema context each variant saw, for trace
	// output and audit.
	Previews []VariantPreview
}

// VariantPreview pairs a variant name with the context summary it was
// rendered from.
type VariantPreview struct {
	Variant string `json:"variant"`
	ContextPreview
}

// Orchestrator runs SQL-first schema linking: generate candidate SQL per
// prompt variant, check which literals map to known column values, revise
// candidates whose literals point at fields the SQL never references, then
// produce one final SQL from the union of all referenced fields.
type Orchestrator struct {
	builder  *VariantBuilder
	store    ProfileStore
	chat     llm.Chat
	index    LiteralIndex
	enforcer tenantscope.Enforcer
	cfg      config.LinkingConfig
	logger   *zap.Logger
}

// NewOrchestrator wires the orchestrator. The literal index is owned by the
// caller and must be built before linking runs see any lookups.
func NewOrchestrator(
	builder *VariantBuilder,
	store ProfileStore,
	chat llm.Chat,
	index LiteralIndex,
	enforcer tenantscope.Enforcer,
	cfg config.LinkingConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		builder:  builder,
		store:    store,
		chat:     chat,
		index:    index,
		enforcer: enforcer,
		cfg:      cfg,
		logger:   logger.Named("linking"),
	}
}

// Link answers a natural-language question with one SQL statement.
func (o *Orchestrator) Link(ctx context.Context, question string) (*Result, error) {
	set, err := o.builder.BuildVariants(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("build prompt variants: %w", err)
	}

	linked := make(map[Field]bool)
	previews := make([]VariantPreview, 0, len(set.Variants))
	for _, variant := range set.Variants {
		previews = append(previews, VariantPreview{Variant: variant.Name, ContextPreview: variant.Preview})
		fields, err := o.runVariant(ctx, variant)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", variant.Name, err)
		}
		for f := range fields {
			linked[f] = true
		}
	}

	fields := sortedFields(linked)

	finalContext, err := o.finalContext(ctx, fields)
	if err != nil {
		return nil, err
	}
	finalContext += "\n\nTENANT SCOPE\n" +
		"- Every tenant-scoped table must be filtered with <alias>.business_id = :business_id."
	response, err := o.chat.Chat(ctx, []llm.Message{
		llm.SystemMessage(SystemRules),
		llm.AssistantMessage(finalContext),
		llm.UserMessage("Question:\n" + question),
	})
	if err != nil {
		return nil, fmt.Errorf("final sql generation: %w", err)
	}

	finalSQL := o.enforcer.Enforce(llm.CleanSQL(response))
	return &Result{SQL: finalSQL, Fields: fields, Previews: previews}, nil
}

// runVariant generates SQL for one variant and revises it while extracted
// literals point at columns the SQL does not reference. Returns the fields
// referenced by the settled candidate.
func (o *Orchestrator) runVariant(ctx context.Context, variant Variant) (map[Field]bool, error) {
	messages := variant.Messages
	response, err := o.chat.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	sql := llm.CleanSQL(response)

	tries := 0
	for {
		fields, literals, err := ExtractFieldsAndLiterals(sql)
		if err != nil {
			// Unparseable candidate: nothing to link from it.
			o.logger.Warn("candidate sql unparseable",
				zap.String("variant", variant.Name), zap.Error(err))
			return nil, nil
		}

		var missing []string
		candidateFields := make(map[Field]bool)
		for _, lit := range literals {
			candidates := o.index.LookupLiteral(lit)
			if len(candidates) == 0 {
				continue
			}
			covered := false
			for _, c := range candidates {
				if fields[Field{Table: c.Table, Column: c.Column}] {
					covered = true
					break
				}
			}
			if !covered {
				missing = append(missing, lit)
				for _, c := range candidates {
					candidateFields[Field{Table: c.Table, Column: c.Column}] = true
				}
			}
		}

		if len(candidateFields) > 0 && tries < o.cfg.MaxRevisions {
			tries++
			response, err := o.chat.Chat(ctx, revisionMessages(messages, sql, candidateFields, missing))
			if err != nil {
				return nil, fmt.Errorf("revise sql: %w", err)
			}
			sql = llm.CleanSQL(response)
			continue
		}

		return fields, nil
	}
}

// revisionMessages rebuilds a variant's messages with the candidate fields
// spliced into the context and a user message asking for a revision.
func revisionMessages(base []llm.Message, oldSQL string, added map[Field]bool, missingLiterals []string) []llm.Message {
	var aug strings.Builder
	aug.WriteString("\nAUGMENTED FIELDS (contain missing literals):")
	for _, f := range sortedFields(added) {
		aug.WriteString("\n- " + f.Table + "." + f.Column)
	}
	revisedContext := strings.Replace(base[1].Content, "CONTEXT END", aug.String()+"\n\nCONTEXT END", 1)

	var user strings.Builder
	user.WriteString("Revise the SQL so that each of these literals appears in a field that actually contains it.\n\n")
	user.WriteString("Missing literals:\n")
	for _, lit := range missingLiterals {
		user.WriteString("- " + lit + "\n")
	}
	user.WriteString("\nPrevious SQL:\n" + oldSQL + "\n\nOutput SQL only.")

	return []llm.Message{
		llm.SystemMessage(base[0].Content),
		llm.AssistantMessage(revisedContext),
		llm.UserMessage(user.String()),
	}
}

// finalContext renders a compact context from the unioned fields: short
// summaries for everything, a long summary only for the first column of
// each table.
func (o *Orchestrator) finalContext(ctx context.Context, fields []Field) (string, error) {
	if len(fields) == 0 {
		return "CONTEXT START\nDATABASE DIALECT: PostgreSQL\nCONTEXT END", nil
	}

	profiles, err := o.store.ProfilesForFields(ctx, fields)
	if err != nil {
		return "", fmt.Errorf("load profiles for linked fields: %w", err)
	}

	byTable := make(map[string][]ColumnProfile)
	var tableOrder []string
	for _, p := range profiles {
		if _, ok := byTable[p.TableName]; !ok {
			tableOrder = append(tableOrder, p.TableName)
		}
		byTable[p.TableName] = append(byTable[p.TableName], p)
	}

	var tables []TableContext
	usedAliases := make(map[string]bool)
	for _, tname := range tableOrder {
		cols := byTable[tname]
		tcols := make([]ColumnContext, 0, len(cols))
		for i, p := range cols {
			long := ""
			if i == 0 {
				long = p.LongSummary
			}
			tcols = append(tcols, ColumnContext{
				Name:               p.ColumnName,
				ShortSummary:       p.ShortSummary,
				LongSummary:        long,
				EnglishDescription: p.EnglishDescription,
			})
		}
		tables = append(tables, TableContext{
			Name:    tname,
			Alias:   makeAlias(tname, usedAliases),
			Columns: tcols,
		})
	}

	return renderContext(tables, ProfileMaximal), nil
}

func sortedFields(set map[Field]bool) []Field {
	out := make([]Field, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}
