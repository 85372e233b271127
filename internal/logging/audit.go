package logging

import (
	"time"

	"go.uber.org/zap"
)

// AuditEventType names one kind of auditable story event.
type AuditEventType string

const (
	// Session lifecycle
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"

	// Turn persistence
	AuditTurnAppend AuditEventType = "turn_append"

	// Quota decisions
	AuditQuotaBlock  AuditEventType = "quota_block"
	AuditQuotaBreach AuditEventType = "quota_breach"

	// Backend outcomes
	AuditBackendError AuditEventType = "backend_error"
	AuditEmptyResult  AuditEventType = "empty_result"
)

// AuditEvent is one structured audit record.
type AuditEvent struct {
	EventType  AuditEventType
	RequestID  string
	UserID     int64
	SessionID  int
	Role       string
	TokenCount int
	Total      int
	DurationMs int64
	Error      string
	Message    string
}

// AuditLogger writes audit events to the audit category.
type AuditLogger struct {
	requestID string
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRequest returns an audit logger that stamps every event with requestID.
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	if event.RequestID == "" {
		event.RequestID = a.requestID
	}
	fields := []zap.Field{
		zap.String("event", string(event.EventType)),
		zap.Int64("user", event.UserID),
		zap.Int("session", event.SessionID),
		zap.Time("at", time.Now()),
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("req", event.RequestID))
	}
	if event.Role != "" {
		fields = append(fields, zap.String("role", event.Role))
	}
	if event.TokenCount != 0 {
		fields = append(fields, zap.Int("tokens", event.TokenCount))
	}
	if event.Total != 0 {
		fields = append(fields, zap.Int("session_total", event.Total))
	}
	if event.DurationMs != 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	Get(CategoryAudit).Zap().Info(event.Message, fields...)
}

// TurnAppended records a persisted turn.
func (a *AuditLogger) TurnAppended(userID int64, sessionID int, role string, tokens, total int) {
	a.Log(AuditEvent{
		EventType:  AuditTurnAppend,
		UserID:     userID,
		SessionID:  sessionID,
		Role:       role,
		TokenCount: tokens,
		Total:      total,
		Message:    "turn appended",
	})
}

// QuotaEvent records a quota block (before persistence) or breach (after).
func (a *AuditLogger) QuotaEvent(eventType AuditEventType, userID int64, sessionID int, err error) {
	a.Log(AuditEvent{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Error:     errString(err),
		Message:   "quota limit",
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
