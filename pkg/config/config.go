package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for lexitau-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// SQL guard policy
	Guard GuardConfig `yaml:"guard"`

	// Schema-linking orchestrator knobs
	Linking LinkingConfig `yaml:"linking"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"lexitau"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"lexitau"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// SecretKey signs and verifies HS256 access tokens. Secret - env only.
	SecretKey string `yaml:"-" env:"AUTH_SECRET_KEY"`

	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	// Provider selects the chat backend: "openai" or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`

	// Endpoint is an OpenAI-compatible base URL. Ignored by the anthropic provider.
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	EmbeddingModel string  `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Temperature    float32 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens      int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"800"`
}

// GuardConfig holds the SQL guard policy: allow-lists, tenant scoping,
// wildcard-expansion exclusions and execution limits.
//
// List-valued knobs are comma-separated strings so they can be overridden
// through a single environment variable; the parsed slices are populated
// by Load.
type GuardConfig struct {
	AllowedSchemasStr string `yaml:"allowed_schemas" env:"GUARD_ALLOWED_SCHEMAS" env-default:"public"`
	AllowedTablesStr  string `yaml:"allowed_tables" env:"GUARD_ALLOWED_TABLES" env-default:"public.documents,public.clients,public.projects,public.line_items,public.extracted_fields,public.field_corrections,public.categories"`

	AllowedSchemas []string `yaml:"-"`
	AllowedTables  []string `yaml:"-"`

	// Tenant scoping. TenantTables lists the bare names of every
	// tenant-bearing table (categories is deliberately business-global and
	// absent); TenantRequiredTables is the stricter per-alias guard list.
	TenantColumn            string   `yaml:"tenant_column" env:"GUARD_TENANT_COLUMN" env-default:"business_id"`
	TenantParam             string   `yaml:"tenant_param" env:"GUARD_TENANT_PARAM" env-default:"business_id"`
	TenantEnforcePerTable   bool     `yaml:"tenant_enforce_per_table" env:"GUARD_TENANT_ENFORCE_PER_TABLE" env-default:"true"`
	TenantTablesStr         string   `yaml:"tenant_tables" env:"GUARD_TENANT_TABLES" env-default:"documents,extracted_fields,line_items,field_corrections,clients,projects,users"`
	TenantRequiredTablesStr string   `yaml:"tenant_required_tables" env:"GUARD_TENANT_REQUIRED_TABLES" env-default:"public.documents,public.clients,public.projects"`
	TenantTables            []string `yaml:"-"`
	TenantRequiredTables    []string `yaml:"-"`

	// SELECT * expansion
	ExpandSelectStar         bool     `yaml:"expand_select_star" env:"GUARD_EXPAND_SELECT_STAR" env-default:"true"`
	ExpandExcludeTypesStr    string   `yaml:"expand_exclude_types" env:"GUARD_EXPAND_EXCLUDE_TYPES" env-default:"bytea"`
	ExpandExcludePatternsStr string   `yaml:"expand_exclude_name_patterns" env:"GUARD_EXPAND_EXCLUDE_NAME_PATTERNS" env-default:"password,secret,api[_-]?key,token"`
	ExpandExcludeColumnsStr  string   `yaml:"expand_exclude_columns" env:"GUARD_EXPAND_EXCLUDE_COLUMNS" env-default:"public.documents.file_url"`
	ExpandExcludeTypes       []string `yaml:"-"`
	ExpandExcludePatterns    []string `yaml:"-"`
	ExpandExcludeColumns     []string `yaml:"-"`

	// Function deny-list. Entries are case-insensitive regexes anchored to the
	// full unqualified function name.
	FunctionDenylistStr string   `yaml:"function_denylist" env:"GUARD_FUNCTION_DENYLIST" env-default:"pg_sleep,pg_sleep_for,pg_sleep_until,pg_read_.*,pg_ls_.*,dblink.*,lo_.*,pg_terminate_backend,pg_cancel_backend,set_config,pg_reload_conf"`
	FunctionDenylist    []string `yaml:"-"`

	// Execution limits
	DefaultRowLimit int    `yaml:"default_row_limit" env:"GUARD_DEFAULT_ROW_LIMIT" env-default:"500"`
	DefaultTimeoutS int    `yaml:"default_timeout_s" env:"GUARD_DEFAULT_TIMEOUT_S" env-default:"5"`
	WorkMem         string `yaml:"work_mem" env:"GUARD_WORK_MEM" env-default:""`
}

// LinkingConfig holds schema-linking orchestrator knobs.
type LinkingConfig struct {
	// TopColumns is the number of columns fetched by vector search.
	TopColumns int `yaml:"top_columns" env:"LINKING_TOP_COLUMNS" env-default:"50"`
	// MaxColumnsPerTable caps columns kept per table in the focused schema.
	MaxColumnsPerTable int `yaml:"max_columns_per_table" env:"LINKING_MAX_COLUMNS_PER_TABLE" env-default:"3"`
	// MaxTables caps the number of tables in the focused schema.
	MaxTables int `yaml:"max_tables" env:"LINKING_MAX_TABLES" env-default:"6"`
	// MaxRevisions bounds the literal-driven revision loop per variant.
	MaxRevisions int `yaml:"max_revisions" env:"LINKING_MAX_REVISIONS" env-default:"2"`
	// TrimLongSummaries keeps long summaries down to format plus a few examples.
	TrimLongSummaries bool `yaml:"trim_long_summaries" env:"LINKING_TRIM_LONG_SUMMARIES" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// AUTH_SECRET_KEY, LLM_API_KEY) must come from environment variables.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Parse complex fields
	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	g := &c.Guard
	g.AllowedSchemas = splitList(g.AllowedSchemasStr)
	g.AllowedTables = splitList(g.AllowedTablesStr)
	g.TenantTables = splitList(g.TenantTablesStr)
	g.TenantRequiredTables = splitList(g.TenantRequiredTablesStr)
	g.ExpandExcludeTypes = splitList(g.ExpandExcludeTypesStr)
	g.ExpandExcludePatterns = splitList(g.ExpandExcludePatternsStr)
	g.ExpandExcludeColumns = splitList(g.ExpandExcludeColumnsStr)
	g.FunctionDenylist = splitList(g.FunctionDenylistStr)

	// Fail fast on bad patterns instead of at first query.
	for _, pattern := range g.ExpandExcludePatterns {
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return fmt.Errorf("invalid exclude name pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range g.FunctionDenylist {
		if _, err := regexp.Compile("(?i)^(?:" + pattern + ")$"); err != nil {
			return fmt.Errorf("invalid function denylist pattern %q: %w", pattern, err)
		}
	}

	if g.TenantColumn == "" || g.TenantParam == "" {
		return fmt.Errorf("tenant_column and tenant_param must not be empty")
	}

	return nil
}

// splitList parses a comma-separated string into a slice, trimming whitespace
// and dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL connection string. Loopback hosts
// are remapped when running inside Docker so local setups keep working.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
