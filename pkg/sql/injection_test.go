package sql

import (
	"testing"
)

func TestCheckParameterForInjection(t *testing.T) {
	tests := []struct {
		name            string
		paramName       string
		value           any
		expectInjection bool
	}{
		{
			name:            "clean numeric string",
			paramName:       "business_id",
			value:           "42",
			expectInjection: false,
		},
		{
			name:            "clean date string",
			paramName:       "issued_on",
			value:           "2024-01-15",
			expectInjection: false,
		},
		{
			name:            "clean uuid",
			paramName:       "document_id",
			value:           "550e8400-e29b-41d4-a716-446655440000",
			expectInjection: false,
		},
		{
			name:            "clean search term",
			paramName:       "client_name",
			value:           "Acme Corporation",
			expectInjection: false,
		},
		{
			name:            "integer value skipped",
			paramName:       "business_id",
			value:           42,
			expectInjection: false,
		},
		{
			name:            "boolean value skipped",
			paramName:       "truncated",
			value:           true,
			expectInjection: false,
		},
		{
			name:            "nil value skipped",
			paramName:       "note",
			value:           nil,
			expectInjection: false,
		},
		{
			name:            "classic quote injection",
			paramName:       "status",
			value:           "' OR '1'='1",
			expectInjection: true,
		},
		{
			name:            "stacked statement",
			paramName:       "search",
			value:           "'; DROP TABLE documents--",
			expectInjection: true,
		},
		{
			name:            "union probe",
			paramName:       "status",
			value:           "x' UNION SELECT password FROM users--",
			expectInjection: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckParameterForInjection(tt.paramName, tt.value)
			if tt.expectInjection {
				if result == nil {
					t.Fatalf("expected injection to be detected for %v", tt.value)
				}
				if !result.IsSQLi {
					t.Error("expected IsSQLi to be true")
				}
				if result.ParamName != tt.paramName {
					t.Errorf("expected param name %q, got %q", tt.paramName, result.ParamName)
				}
				if result.Fingerprint == "" {
					t.Error("expected a non-empty fingerprint")
				}
			} else if result != nil {
				t.Errorf("expected no injection, got %+v", result)
			}
		})
	}
}

func TestCheckAllParameters(t *testing.T) {
	params := map[string]any{
		"business_id": 42,
		"status":      "paid",
		"search":      "'; DROP TABLE documents--",
	}

	results := CheckAllParameters(params)
	if len(results) != 1 {
		t.Fatalf("expected 1 dirty parameter, got %d", len(results))
	}
	if results[0].ParamName != "search" {
		t.Errorf("expected search to fail, got %q", results[0].ParamName)
	}
}

func TestCheckAllParameters_AllClean(t *testing.T) {
	params := map[string]any{
		"business_id": 42,
		"status":      "paid",
	}
	if results := CheckAllParameters(params); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
