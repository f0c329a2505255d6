package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lexitau/lexitau-engine/pkg/config"
)

// Exclusions records which columns of one table were dropped during
// wildcard expansion and why. A column lands in exactly one bucket;
// type exclusion wins over name pattern, which wins over the explicit list.
type Exclusions struct {
	ByType     []string `json:"excluded_by_type,omitempty"`
	ByPattern  []string `json:"excluded_by_name_pattern,omitempty"`
	ByExplicit []string `json:"excluded_by_explicit,omitempty"`
}

// Empty reports whether nothing was excluded.
func (e Exclusions) Empty() bool {
	return len(e.ByType) == 0 && len(e.ByPattern) == 0 && len(e.ByExplicit) == 0
}

// ExclusionPolicy is the compiled wildcard-expansion exclusion rules.
// The policy applies only to `SELECT *` expansion; explicitly named
// projections are never filtered.
type ExclusionPolicy struct {
	types    map[string]bool // lowercased declared types
	patterns []*regexp.Regexp
	explicit map[string]bool // lowercased schema.table.column
}

// CompileExclusionPolicy builds an ExclusionPolicy from guard configuration.
func CompileExclusionPolicy(cfg *config.GuardConfig) (*ExclusionPolicy, error) {
	p := &ExclusionPolicy{
		types:    make(map[string]bool),
		explicit: make(map[string]bool),
	}
	for _, t := range cfg.ExpandExcludeTypes {
		p.types[strings.ToLower(t)] = true
	}
	for _, pattern := range cfg.ExpandExcludePatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile exclude name pattern %q: %w", pattern, err)
		}
		p.patterns = append(p.patterns, re)
	}
	for _, c := range cfg.ExpandExcludeColumns {
		p.explicit[strings.ToLower(c)] = true
	}
	return p, nil
}

// Apply splits columns into the surviving list and the exclusion record for
// schema.table. Bucket precedence is fixed: type, then name pattern, then
// the explicit fully-qualified list.
func (p *ExclusionPolicy) Apply(schema, table string, columns []Column) ([]Column, Exclusions) {
	var kept []Column
	var excl Exclusions

	for _, col := range columns {
		switch {
		case p.types[strings.ToLower(col.DataType)]:
			excl.ByType = append(excl.ByType, col.Name)
		case p.matchesPattern(col.Name):
			excl.ByPattern = append(excl.ByPattern, col.Name)
		case p.explicit[strings.ToLower(schema+"."+table+"."+col.Name)]:
			excl.ByExplicit = append(excl.ByExplicit, col.Name)
		default:
			kept = append(kept, col)
		}
	}

	return kept, excl
}

func (p *ExclusionPolicy) matchesPattern(name string) bool {
	for _, re := range p.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
