// Package audit logs security-relevant report events in a structured form
// that SIEM pipelines can filter on.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/logging"
	"github.com/ekaya-inc/ekaya-insights/pkg/middleware"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a report parameter.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventParameterValidation is logged when a report parameter is rejected.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	Report    string            `json:"report"`
	RequestID string            `json:"request_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails describes a flagged parameter.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events under the "security_audit" logger.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a parameter that libinjection flagged. The
// value is truncated and logged at ERROR level with critical severity.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, report string, details SQLInjectionDetails) {
	details.ParamValue = logging.TruncateString(details.ParamValue, logging.MaxQueryLogLength)

	event := a.event(ctx, EventSQLInjectionAttempt, report, details, "critical")

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", marshal(event)),
		zap.String("report", report),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("request_id", event.RequestID),
		zap.String("severity", event.Severity),
	)
}

// LogParameterValidation records a rejected parameter. These are usually
// caller mistakes, so they log at WARN.
func (a *SecurityAuditor) LogParameterValidation(ctx context.Context, report, errorMessage string) {
	event := a.event(ctx, EventParameterValidation, report, map[string]string{"error": errorMessage}, "warning")

	a.logger.Warn("Parameter validation failed",
		zap.String("event_json", marshal(event)),
		zap.String("report", report),
		zap.String("error", errorMessage),
		zap.String("request_id", event.RequestID),
		zap.String("severity", event.Severity),
	)
}

func (a *SecurityAuditor) event(ctx context.Context, t SecurityEventType, report string, details any, severity string) SecurityEvent {
	return SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: t,
		Report:    report,
		RequestID: middleware.GetRequestID(ctx),
		Details:   details,
		Severity:  severity,
	}
}

func marshal(event SecurityEvent) string {
	// Known types only; Marshal cannot fail.
	b, _ := json.Marshal(event)
	return string(b)
}
