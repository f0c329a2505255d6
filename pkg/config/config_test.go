package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yamlContent string) {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "8080"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
`)

	// Clear env vars that might interfere with test
	os.Unsetenv("PGHOST")

	// Set env vars to override YAML values
	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify env vars override YAML
	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}

	// Verify version was set
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}

	// Verify YAML value used for database host (proves YAML was read)
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	_, err = Load("test-version")
	if err == nil {
		t.Error("expected error when config.yaml is missing")
	}
}

func TestLoad_GuardDefaults(t *testing.T) {
	writeConfig(t, `
port: "8080"
env: "test"
database:
  host: "localhost"
`)

	os.Unsetenv("GUARD_ALLOWED_SCHEMAS")
	os.Unsetenv("GUARD_ALLOWED_TABLES")
	os.Unsetenv("GUARD_TENANT_REQUIRED_TABLES")
	os.Unsetenv("GUARD_DEFAULT_ROW_LIMIT")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	g := cfg.Guard
	if len(g.AllowedSchemas) != 1 || g.AllowedSchemas[0] != "public" {
		t.Errorf("expected AllowedSchemas=[public] (default), got %v", g.AllowedSchemas)
	}
	if len(g.AllowedTables) != 7 {
		t.Errorf("expected 7 allowed tables (default), got %v", g.AllowedTables)
	}
	if g.TenantColumn != "business_id" {
		t.Errorf("expected TenantColumn=business_id (default), got %s", g.TenantColumn)
	}
	if len(g.TenantTables) != 7 {
		t.Errorf("expected 7 tenant tables (default), got %v", g.TenantTables)
	}
	for _, table := range g.TenantTables {
		if table == "categories" {
			t.Error("categories is business-global and must not default to tenant-bearing")
		}
	}
	if !g.TenantEnforcePerTable {
		t.Error("expected TenantEnforcePerTable=true (default)")
	}
	if g.DefaultRowLimit != 500 {
		t.Errorf("expected DefaultRowLimit=500 (default), got %d", g.DefaultRowLimit)
	}
	if g.DefaultTimeoutS != 5 {
		t.Errorf("expected DefaultTimeoutS=5 (default), got %d", g.DefaultTimeoutS)
	}
	if len(g.FunctionDenylist) == 0 {
		t.Error("expected non-empty FunctionDenylist (default)")
	}
}

func TestLoad_GuardListsFromEnv(t *testing.T) {
	writeConfig(t, `
port: "8080"
env: "test"
database:
  host: "localhost"
`)

	t.Setenv("GUARD_ALLOWED_TABLES", " public.orders , public.invoices ")
	t.Setenv("GUARD_TENANT_REQUIRED_TABLES", "public.orders")
	t.Setenv("GUARD_EXPAND_EXCLUDE_COLUMNS", "public.orders.internal_notes")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	g := cfg.Guard
	// Whitespace around list entries is trimmed
	if len(g.AllowedTables) != 2 || g.AllowedTables[0] != "public.orders" || g.AllowedTables[1] != "public.invoices" {
		t.Errorf("expected AllowedTables=[public.orders public.invoices], got %v", g.AllowedTables)
	}
	if len(g.TenantRequiredTables) != 1 || g.TenantRequiredTables[0] != "public.orders" {
		t.Errorf("expected TenantRequiredTables=[public.orders], got %v", g.TenantRequiredTables)
	}
	if len(g.ExpandExcludeColumns) != 1 || g.ExpandExcludeColumns[0] != "public.orders.internal_notes" {
		t.Errorf("expected ExpandExcludeColumns=[public.orders.internal_notes], got %v", g.ExpandExcludeColumns)
	}
}

func TestLoad_InvalidDenylistPattern(t *testing.T) {
	writeConfig(t, `
port: "8080"
env: "test"
database:
  host: "localhost"
`)

	t.Setenv("GUARD_FUNCTION_DENYLIST", "pg_sleep,([invalid")

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error for invalid denylist pattern, got nil")
	}
	if !strings.Contains(err.Error(), "denylist") {
		t.Errorf("expected error to mention denylist, got: %v", err)
	}
}

func TestLoad_LinkingDefaults(t *testing.T) {
	writeConfig(t, `
port: "8080"
env: "test"
database:
  host: "localhost"
`)

	os.Unsetenv("LINKING_TOP_COLUMNS")
	os.Unsetenv("LINKING_MAX_TABLES")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Linking.TopColumns != 50 {
		t.Errorf("expected TopColumns=50 (default), got %d", cfg.Linking.TopColumns)
	}
	if cfg.Linking.MaxColumnsPerTable != 3 {
		t.Errorf("expected MaxColumnsPerTable=3 (default), got %d", cfg.Linking.MaxColumnsPerTable)
	}
	if cfg.Linking.MaxTables != 6 {
		t.Errorf("expected MaxTables=6 (default), got %d", cfg.Linking.MaxTables)
	}
	if cfg.Linking.MaxRevisions != 2 {
		t.Errorf("expected MaxRevisions=2 (default), got %d", cfg.Linking.MaxRevisions)
	}
	if !cfg.Linking.TrimLongSummaries {
		t.Error("expected TrimLongSummaries=true (default)")
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "app",
		Password: "s3cret",
		Database: "lexitau",
		SSLMode:  "require",
	}

	got := db.ConnectionString()
	want := "host=db.internal port=5433 user=app password=s3cret dbname=lexitau sslmode=require"
	if got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
