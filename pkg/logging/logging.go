package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger *slog.Logger

// InitForCLI initializes the package-level logger for CLI use. Should be
// called once at application startup, before any Debug/Info/Warn/Error/Audit
// call.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{Level: filterLevel.SlogLevel()})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	var slogAttrs []slog.Attr
	slogAttrs = append(slogAttrs, slog.String("subsystem", subsystem))
	if err != nil {
		slogAttrs = append(slogAttrs, slog.String("error", err.Error()))
	}

	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, slogAttrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateSessionID returns a truncated identifier for secure logging,
// e.g. so a full access-context or client ID never appears in logs.
// Format: first 8 chars + "..." (e.g., "abc12345...").
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "..."
}

// AuditEvent is a structured audit log event for one of this module's
// security-sensitive operations — token exchange, refresh, dynamic client
// registration — collectible by external audit systems for compliance
// monitoring.
type AuditEvent struct {
	Action    string // e.g. "token_exchange", "token_refresh"
	Outcome   string // "success" or "failure"
	ContextID string // the context_id the Session belongs to (§4.4)
	GrantType string // "authorization_code" or "refresh_token"
	SessionID string
	UserID    string
	Target    string // e.g. resource URL, zone
	Details   string
	Error     string
}

// Audit logs a structured audit event at INFO level with an [AUDIT]
// message so it can be filtered by log aggregation systems, carrying each
// field as its own slog attribute rather than a single flattened string
// so context_id and grant_type stay queryable by the audit sink.
func Audit(event AuditEvent) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), slog.LevelInfo) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs, slog.String("action", event.Action))
	attrs = append(attrs, slog.String("outcome", event.Outcome))
	if event.ContextID != "" {
		attrs = append(attrs, slog.String("context_id", event.ContextID))
	}
	if event.GrantType != "" {
		attrs = append(attrs, slog.String("grant_type", event.GrantType))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session", event.SessionID))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user", event.UserID))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Details != "" {
		attrs = append(attrs, slog.String("details", event.Details))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	defaultLogger.LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT]", attrs...)
}
