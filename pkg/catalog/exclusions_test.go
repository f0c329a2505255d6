package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexitau/lexitau-engine/pkg/config"
)

func testPolicy(t *testing.T) *ExclusionPolicy {
	t.Helper()
	policy, err := CompileExclusionPolicy(&config.GuardConfig{
		ExpandExcludeTypes:    []string{"bytea"},
		ExpandExcludePatterns: []string{"password", "secret", "api[_-]?key", "token"},
		ExpandExcludeColumns:  []string{"public.documents.file_url"},
	})
	require.NoError(t, err)
	return policy
}

func TestExclusionPolicy_Apply(t *testing.T) {
	policy := testPolicy(t)

	columns := []Column{
		{Name: "id", DataType: "bigint"},
		{Name: "file_url", DataType: "text"},
		{Name: "raw_blob", DataType: "bytea"},
		{Name: "api_key", DataType: "text"},
		{Name: "status", DataType: "text"},
	}

	kept, excl := policy.Apply("public", "documents", columns)

	assert.Equal(t, []Column{
		{Name: "id", DataType: "bigint"},
		{Name: "status", DataType: "text"},
	}, kept)
	assert.Equal(t, []string{"raw_blob"}, excl.ByType)
	assert.Equal(t, []string{"api_key"}, excl.ByPattern)
	assert.Equal(t, []string{"file_url"}, excl.ByExplicit)
}

// A column matching both a type rule and a name-pattern rule must land in
// the type bucket only.
func TestExclusionPolicy_TypeBeatsPattern(t *testing.T) {
	policy := testPolicy(t)

	kept, excl := policy.Apply("public", "documents", []Column{
		{Name: "password_blob", DataType: "bytea"},
	})

	assert.Empty(t, kept)
	assert.Equal(t, []string{"password_blob"}, excl.ByType)
	assert.Empty(t, excl.ByPattern)
	assert.Empty(t, excl.ByExplicit)
}

func TestExclusionPolicy_PatternBeatsExplicit(t *testing.T) {
	policy, err := CompileExclusionPolicy(&config.GuardConfig{
		ExpandExcludePatterns: []string{"token"},
		ExpandExcludeColumns:  []string{"public.documents.token"},
	})
	require.NoError(t, err)

	_, excl := policy.Apply("public", "documents", []Column{
		{Name: "token", DataType: "text"},
	})

	assert.Equal(t, []string{"token"}, excl.ByPattern)
	assert.Empty(t, excl.ByExplicit)
}

func TestExclusionPolicy_CaseInsensitive(t *testing.T) {
	policy := testPolicy(t)

	_, excl := policy.Apply("public", "documents", []Column{
		{Name: "API_KEY", DataType: "TEXT"},
		{Name: "blob", DataType: "BYTEA"},
	})

	assert.Equal(t, []string{"blob"}, excl.ByType)
	assert.Equal(t, []string{"API_KEY"}, excl.ByPattern)
}

func TestExclusionPolicy_ExplicitIsFullyQualified(t *testing.T) {
	policy := testPolicy(t)

	// file_url on a different table survives.
	kept, excl := policy.Apply("public", "clients", []Column{
		{Name: "file_url", DataType: "text"},
	})

	assert.Equal(t, []Column{{Name: "file_url", DataType: "text"}}, kept)
	assert.True(t, excl.Empty())
}

func TestCompileExclusionPolicy_InvalidPattern(t *testing.T) {
	_, err := CompileExclusionPolicy(&config.GuardConfig{
		ExpandExcludePatterns: []string{"([bad"},
	})
	require.Error(t, err)
}
