package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditEventGeofenceCreated AuditEventType = "geofence.created"
	AuditEventGeofenceUpdated AuditEventType = "geofence.updated"
	AuditEventGeofenceDeleted AuditEventType = "geofence.deleted"

	AuditEventAuthDenied        AuditEventType = "security.auth_denied"
	AuditEventRateLimitExceeded AuditEventType = "security.rate_limit"
)

// AuditOutcome represents the outcome of an action.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        AuditEventType `json:"type"`
	Actor       *AuditActor    `json:"actor"`
	Resource    *AuditResource `json:"resource,omitempty"`
	Outcome     AuditOutcome   `json:"outcome"`
	Details     map[string]any `json:"details,omitempty"`
	Request     *AuditRequest  `json:"request,omitempty"`
	Service     string         `json:"service"`
	Environment string         `json:"environment"`
}

// AuditActor represents who performed the action. ID is the token subject.
type AuditActor struct {
	ID        string `json:"id"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AuditResource represents the resource affected by the action.
type AuditResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AuditRequest represents the HTTP request context.
type AuditRequest struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as structured log records.
type AuditLogger struct {
	logger      *slog.Logger
	service     string
	environment string
	now         func() time.Time
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	ServiceName string
	Environment string
	Logger      *Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config AuditLoggerConfig) *AuditLogger {
	base := slog.Default()
	if config.Logger != nil {
		base = config.Logger.Logger
	}

	return &AuditLogger{
		logger:      base.With("audit", true),
		service:     config.ServiceName,
		environment: config.Environment,
		now:         time.Now,
	}
}

// Log logs an audit event. A nil *AuditLogger discards it.
func (l *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if l == nil {
		return
	}
	event.Service = l.service
	event.Environment = l.environment
	event.Timestamp = l.now().UTC()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Request != nil && event.Request.TraceID == "" {
		event.Request.TraceID = TraceIDFromContext(ctx)
	}

	eventJSON, _ := json.Marshal(event)

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event",
		slog.String("event_type", string(event.Type)),
		slog.String("outcome", string(event.Outcome)),
		slog.String("event", string(eventJSON)),
	)
}

// LogFromRequest logs an event with HTTP request context.
func (l *AuditLogger) LogFromRequest(r *http.Request, eventType AuditEventType, actor *AuditActor, resource *AuditResource, outcome AuditOutcome, details map[string]any) {
	if l == nil {
		return
	}
	if actor == nil {
		actor = &AuditActor{}
	}
	if actor.IP == "" {
		actor.IP = r.RemoteAddr
	}
	if actor.UserAgent == "" {
		actor.UserAgent = r.UserAgent()
	}

	l.Log(r.Context(), AuditEvent{
		Type:     eventType,
		Actor:    actor,
		Resource: resource,
		Outcome:  outcome,
		Details:  details,
		Request: &AuditRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	})
}

// LogGeofenceChange records a committed geofence mutation.
func (l *AuditLogger) LogGeofenceChange(r *http.Request, eventType AuditEventType, subject string, id int64) {
	l.LogFromRequest(r, eventType,
		&AuditActor{ID: subject},
		&AuditResource{Type: "geofence", ID: strconv.FormatInt(id, 10)},
		AuditOutcomeSuccess,
		nil,
	)
}

// TraceIDFromContext returns the active OpenTelemetry trace id, if any.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
