// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection
	// patterns in a bind parameter value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventTenantOverrideAttempt is logged when a client supplies its own
	// business_id parameter instead of relying on the token identity.
	EventTenantOverrideAttempt SecurityEventType = "tenant_override_attempt"
	// EventGuardRejection is logged when the SQL guard rejects a statement.
	EventGuardRejection SecurityEventType = "guard_rejection"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	BusinessID int64             `json:"business_id"`
	TraceID    string            `json:"trace_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	securityLogger := logger.Named("security_audit")
	return &SecurityAuditor{logger: securityLogger}
}

// LogInjectionAttempt records a detected SQL injection attempt with full context.
// This is logged at ERROR level with "critical" severity for immediate alerting.
//
// The context is used to extract the user ID from JWT claims if available.
// Client IP should be extracted from the HTTP request (typically r.RemoteAddr).
func (a *SecurityAuditor) LogInjectionAttempt(
	ctx context.Context,
	businessID int64,
	traceID string,
	details SQLInjectionDetails,
	clientIP string,
) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventSQLInjectionAttempt,
		BusinessID: businessID,
		TraceID:    traceID,
		UserID:     userID,
		ClientIP:   clientIP,
		Details:    details,
		Severity:   "critical",
	}

	// Serialize event to JSON for SIEM ingestion.
	// Ignoring error as marshaling known types should never fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.Int64("business_id", businessID),
		zap.String("trace_id", traceID),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "critical"),
	)
}

// LogTenantOverrideAttempt records a client-supplied business_id parameter.
// The token is the only trusted tenant identity, so an explicit business_id
// in the request body is treated as a spoofing attempt and logged at ERROR
// level with "critical" severity.
func (a *SecurityAuditor) LogTenantOverrideAttempt(
	ctx context.Context,
	businessID int64,
	traceID string,
	suppliedValue string,
	clientIP string,
) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventTenantOverrideAttempt,
		BusinessID: businessID,
		TraceID:    traceID,
		UserID:     userID,
		ClientIP:   clientIP,
		Details: map[string]string{
			"supplied_business_id": suppliedValue,
		},
		Severity: "critical",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Client attempted to override business_id",
		zap.String("event_json", string(eventJSON)),
		zap.Int64("business_id", businessID),
		zap.String("trace_id", traceID),
		zap.String("supplied_business_id", suppliedValue),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "critical"),
	)
}

// LogGuardRejection records a statement rejected by the SQL guard.
// This is logged at WARN level as these are usually malformed or overreaching
// queries rather than attacks, but the pattern is worth tracking.
func (a *SecurityAuditor) LogGuardRejection(
	ctx context.Context,
	businessID int64,
	traceID string,
	reason string,
	clientIP string,
) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventGuardRejection,
		BusinessID: businessID,
		TraceID:    traceID,
		UserID:     userID,
		ClientIP:   clientIP,
		Details: map[string]string{
			"reason": reason,
		},
		Severity: "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("SQL guard rejected statement",
		zap.String("event_json", string(eventJSON)),
		zap.Int64("business_id", businessID),
		zap.String("trace_id", traceID),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "warning"),
	)
}
