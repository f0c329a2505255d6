package sqlast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPositional(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantSQL   string
		wantNames []string
	}{
		{
			name:      "single named parameter",
			sql:       "SELECT * FROM documents WHERE business_id = :business_id",
			wantSQL:   "SELECT * FROM documents WHERE business_id = $1",
			wantNames: []string{"business_id"},
		},
		{
			name:      "repeated name shares one slot",
			sql:       "SELECT 1 WHERE business_id = :business_id AND d.business_id = :business_id",
			wantSQL:   "SELECT 1 WHERE business_id = $1 AND d.business_id = $1",
			wantNames: []string{"business_id"},
		},
		{
			name:      "multiple names in first-use order",
			sql:       "SELECT 1 WHERE a = :alpha AND b = :beta AND c = :alpha",
			wantSQL:   "SELECT 1 WHERE a = $1 AND b = $2 AND c = $1",
			wantNames: []string{"alpha", "beta"},
		},
		{
			name:      "double colon cast untouched",
			sql:       "SELECT total::text FROM line_items WHERE business_id = :business_id",
			wantSQL:   "SELECT total::text FROM line_items WHERE business_id = $1",
			wantNames: []string{"business_id"},
		},
		{
			name:      "placeholder inside string literal untouched",
			sql:       "SELECT ':business_id' WHERE id = :id",
			wantSQL:   "SELECT ':business_id' WHERE id = $1",
			wantNames: []string{"id"},
		},
		{
			name:      "escaped quote inside literal",
			sql:       "SELECT 'it''s :not_a_param' WHERE id = :id",
			wantSQL:   "SELECT 'it''s :not_a_param' WHERE id = $1",
			wantNames: []string{"id"},
		},
		{
			name:      "quoted identifier untouched",
			sql:       `SELECT ":weird" FROM t WHERE id = :id`,
			wantSQL:   `SELECT ":weird" FROM t WHERE id = $1`,
			wantNames: []string{"id"},
		},
		{
			name:      "line comment untouched",
			sql:       "SELECT 1 -- :comment_param\nWHERE id = :id",
			wantSQL:   "SELECT 1 -- :comment_param\nWHERE id = $1",
			wantNames: []string{"id"},
		},
		{
			name:      "block comment untouched",
			sql:       "SELECT 1 /* :hidden */ WHERE id = :id",
			wantSQL:   "SELECT 1 /* :hidden */ WHERE id = $1",
			wantNames: []string{"id"},
		},
		{
			name:      "no parameters",
			sql:       "SELECT 1",
			wantSQL:   "SELECT 1",
			wantNames: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, params := ToPositional(tt.sql)
			assert.Equal(t, tt.wantSQL, got)
			if tt.wantNames == nil {
				assert.Zero(t, params.Len())
			} else {
				assert.Equal(t, tt.wantNames, params.Names())
			}
		})
	}
}

func TestToNamed_RoundTrip(t *testing.T) {
	sql := "SELECT * FROM documents d WHERE d.business_id = :business_id AND d.status = :status"
	positional, params := ToPositional(sql)
	require.Equal(t, 2, params.Len())

	restored := params.ToNamed(positional)
	assert.Equal(t, sql, restored)
}

func TestToNamed_IgnoresUnknownPositions(t *testing.T) {
	params := NewParamMap()
	params.Ensure("business_id")

	// $2 has no recorded name and must pass through.
	got := params.ToNamed("SELECT 1 WHERE a = $1 AND b = $2")
	assert.Equal(t, "SELECT 1 WHERE a = :business_id AND b = $2", got)
}

func TestToNamed_SkipsDollarQuotedStrings(t *testing.T) {
	params := NewParamMap()
	params.Ensure("business_id")

	got := params.ToNamed("SELECT $$raw $1 text$$ WHERE a = $1")
	assert.Equal(t, "SELECT $$raw $1 text$$ WHERE a = :business_id", got)
}

func TestParamMap_Ensure(t *testing.T) {
	params := NewParamMap()

	assert.Equal(t, 1, params.Ensure("business_id"))
	assert.Equal(t, 2, params.Ensure("status"))
	// Re-ensuring reuses the slot
	assert.Equal(t, 1, params.Ensure("business_id"))
	assert.Equal(t, []string{"business_id", "status"}, params.Names())
}

func TestParamMap_Bind(t *testing.T) {
	_, params := ToPositional("SELECT 1 WHERE a = :alpha AND b = :beta")

	args, err := params.Bind(map[string]any{"alpha": 1, "beta": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{1, "x"}, args)

	_, err = params.Bind(map[string]any{"alpha": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beta")
}
