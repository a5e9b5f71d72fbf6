// Package logging provides structured, CLI-oriented logging for the
// delegation core and its commands, built directly on log/slog.
//
// # Log Levels
//
//   - Debug: Detailed information for debugging and development
//   - Info: General informational messages about application operation
//   - Warn: Warning messages that indicate potential issues
//   - Error: Error messages for failures and exceptional conditions
//
// # Usage
//
//	import "github.com/mcpauth/delegate/pkg/logging"
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("Coordinator", "session transitioned to %s", state)
//	logging.Error("JWKS", err, "refresh failed for %s", jwksURI)
//
// # Audit events
//
// Security-sensitive operations (token exchange, dynamic client
// registration, login) should log an AuditEvent rather than a plain
// Info message, so they can be filtered separately by log aggregation:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:    "token_exchange",
//	    Outcome:   "success",
//	    ContextID: contextID,
//	    GrantType: "authorization_code",
//	    Target:    resourceURL,
//	})
//
// TruncateSessionID should be used whenever a context ID, client ID, or
// other sensitive identifier is included in a log line, so full values
// never appear in log output.
package logging
