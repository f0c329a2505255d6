package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lexitau/lexitau-engine/pkg/auth"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return logger, recorded
}

func contextWithUser(userID string) context.Context {
	claims := &auth.Claims{BusinessID: 7}
	claims.Subject = userID
	return context.WithValue(context.Background(), auth.ClaimsKey, claims)
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, _ := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	assert.NotNil(t, auditor)
	assert.NotNil(t, auditor.logger)
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	details := SQLInjectionDetails{
		ParamName:   "client_name",
		ParamValue:  "'; DROP TABLE documents--",
		Fingerprint: "s&1c",
	}

	tests := []struct {
		name     string
		ctx      context.Context
		wantUser string
	}{
		{
			name:     "with user context",
			ctx:      contextWithUser("user-123"),
			wantUser: "user-123",
		},
		{
			name:     "without user context",
			ctx:      context.Background(),
			wantUser: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded.TakeAll() // Clear previous logs

			auditor.LogInjectionAttempt(tt.ctx, 7, "trace-1", details, "192.168.1.100")

			logs := recorded.All()
			require.Len(t, logs, 1, "Expected exactly one log entry")

			entry := logs[0]
			assert.Equal(t, zapcore.ErrorLevel, entry.Level, "Should log at ERROR level")
			assert.Equal(t, "SQL injection attempt detected", entry.Message)

			fields := entry.ContextMap()
			assert.Equal(t, int64(7), fields["business_id"])
			assert.Equal(t, "trace-1", fields["trace_id"])
			assert.Equal(t, "client_name", fields["param_name"])
			assert.Equal(t, "s&1c", fields["fingerprint"])
			assert.Equal(t, "192.168.1.100", fields["client_ip"])
			assert.Equal(t, tt.wantUser, fields["user_id"])
			assert.Equal(t, "critical", fields["severity"])

			eventJSON, ok := fields["event_json"].(string)
			require.True(t, ok, "event_json should be a string")

			var event SecurityEvent
			err := json.Unmarshal([]byte(eventJSON), &event)
			require.NoError(t, err, "event_json should be valid JSON")

			assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
			assert.Equal(t, int64(7), event.BusinessID)
			assert.Equal(t, "trace-1", event.TraceID)
			assert.Equal(t, tt.wantUser, event.UserID)
			assert.Equal(t, "critical", event.Severity)

			detailsMap, ok := event.Details.(map[string]any)
			require.True(t, ok, "Details should be a map")
			assert.Equal(t, "client_name", detailsMap["param_name"])
			assert.Equal(t, "'; DROP TABLE documents--", detailsMap["param_value"])
			assert.Equal(t, "s&1c", detailsMap["fingerprint"])
		})
	}
}

func TestLogTenantOverrideAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogTenantOverrideAttempt(contextWithUser("user-456"), 7, "trace-2", "999", "10.0.0.50")

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level, "Should log at ERROR level")
	assert.Equal(t, "Client attempted to override business_id", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, int64(7), fields["business_id"])
	assert.Equal(t, "999", fields["supplied_business_id"])
	assert.Equal(t, "user-456", fields["user_id"])
	assert.Equal(t, "critical", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventTenantOverrideAttempt, event.EventType)
	assert.Equal(t, "critical", event.Severity)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "999", detailsMap["supplied_business_id"])
}

func TestLogGuardRejection(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogGuardRejection(contextWithUser("user-789"), 7, "trace-3", "non_select_statement", "172.16.0.1")

	logs := recorded.All()
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level, "Should log at WARN level")
	assert.Equal(t, "SQL guard rejected statement", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, int64(7), fields["business_id"])
	assert.Equal(t, "non_select_statement", fields["reason"])
	assert.Equal(t, "user-789", fields["user_id"])
	assert.Equal(t, "warning", fields["severity"])

	eventJSON, ok := fields["event_json"].(string)
	require.True(t, ok)

	var event SecurityEvent
	err := json.Unmarshal([]byte(eventJSON), &event)
	require.NoError(t, err)

	assert.Equal(t, EventGuardRejection, event.EventType)
	assert.Equal(t, "warning", event.Severity)

	detailsMap, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "non_select_statement", detailsMap["reason"])
}

func TestMultipleInjectionAttempts(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	attempts := []struct {
		param    string
		value    string
		fp       string
		clientIP string
	}{
		{"status", "' OR '1'='1", "o1o", "192.168.1.1"},
		{"client_name", "1; DELETE FROM documents", "s&1c", "192.168.1.2"},
		{"category", "1 UNION SELECT * FROM users", "s&1UE", "192.168.1.3"},
	}

	for _, att := range attempts {
		details := SQLInjectionDetails{
			ParamName:   att.param,
			ParamValue:  att.value,
			Fingerprint: att.fp,
		}
		auditor.LogInjectionAttempt(context.Background(), 7, "trace-4", details, att.clientIP)
	}

	logs := recorded.All()
	require.Len(t, logs, 3, "Should have logged all three attempts")

	for i, entry := range logs {
		assert.Equal(t, zapcore.ErrorLevel, entry.Level)
		fields := entry.ContextMap()
		assert.Equal(t, attempts[i].clientIP, fields["client_ip"])
		assert.Equal(t, attempts[i].param, fields["param_name"])
	}
}

func TestLoggerNamespace(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	details := SQLInjectionDetails{
		ParamName:   "test",
		ParamValue:  "test",
		Fingerprint: "abc",
	}

	auditor.LogInjectionAttempt(context.Background(), 7, "trace-5", details, "127.0.0.1")

	logs := recorded.All()
	require.Len(t, logs, 1)

	assert.Equal(t, "security_audit", logs[0].LoggerName)
}
