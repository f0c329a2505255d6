// Package guard validates parsed SQL against the gateway's safety policy:
// statement kind, schema/table allow-lists, feature restrictions, the
// function deny-list and tenant-scope presence. The guard is read-only;
// it never mutates the AST it is given.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lexitau/lexitau-engine/pkg/config"
)

// Policy is the compiled guard policy.
type Policy struct {
	allowedSchemas map[string]bool
	allowedTables  map[string]bool
	deniedFuncs    []*regexp.Regexp

	tenantColumn         string
	tenantParam          string
	enforcePerTable      bool
	tenantRequiredTables map[string]bool

	globalTenantRe *regexp.Regexp
}

// CompilePolicy builds a Policy from guard configuration.
func CompilePolicy(cfg *config.GuardConfig) (*Policy, error) {
	p := &Policy{
		allowedSchemas:       make(map[string]bool),
		allowedTables:        make(map[string]bool),
		tenantColumn:         cfg.TenantColumn,
		tenantParam:          cfg.TenantParam,
		enforcePerTable:      cfg.TenantEnforcePerTable,
		tenantRequiredTables: make(map[string]bool),
	}

	for _, s := range cfg.AllowedSchemas {
		p.allowedSchemas[strings.ToLower(s)] = true
	}
	for _, t := range cfg.AllowedTables {
		p.allowedTables[strings.ToLower(t)] = true
	}
	for _, t := range cfg.TenantRequiredTables {
		p.tenantRequiredTables[strings.ToLower(t)] = true
	}

	for _, pattern := range cfg.FunctionDenylist {
		re, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile function denylist pattern %q: %w", pattern, err)
		}
		p.deniedFuncs = append(p.deniedFuncs, re)
	}

	p.globalTenantRe = tenantPredicateRe("", p.tenantColumn, p.tenantParam)

	return p, nil
}

// TenantColumn returns the configured tenant column name.
func (p *Policy) TenantColumn() string { return p.tenantColumn }

// TenantParam returns the configured tenant bind-parameter name.
func (p *Policy) TenantParam() string { return p.tenantParam }

// TenantRequired reports whether the fully-qualified table must carry a
// per-alias tenant predicate.
func (p *Policy) TenantRequired(qualified string) bool {
	return p.tenantRequiredTables[strings.ToLower(qualified)]
}

func (p *Policy) schemaAllowed(schema string) bool {
	return p.allowedSchemas[strings.ToLower(schema)]
}

func (p *Policy) tableAllowed(qualified string) bool {
	return p.allowedTables[strings.ToLower(qualified)]
}

// deniedFunction returns the first denied function name among names, if any.
func (p *Policy) deniedFunction(names []string) (string, bool) {
	for _, name := range names {
		for _, re := range p.deniedFuncs {
			if re.MatchString(name) {
				return name, true
			}
		}
	}
	return "", false
}

// tenantPredicateRe builds the tenant-predicate detector for a qualifier.
// An empty qualifier matches the global unqualified form. The placeholder
// may be written `:param` or `$param`; detection is textual rather than
// AST-based so predicates supplied outside the parsed fragment still count.
func tenantPredicateRe(qualifier, column, param string) *regexp.Regexp {
	pattern := `(?i)`
	if qualifier != "" {
		pattern += `\b` + regexp.QuoteMeta(qualifier) + `\.`
	} else {
		pattern += `\b`
	}
	pattern += regexp.QuoteMeta(column) + `\s*=\s*[:$]` + regexp.QuoteMeta(param) + `\b`
	return regexp.MustCompile(pattern)
}
