// Package audit records security-relevant events as structured log entries.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"iepp.org/internal/auth"
	"iepp.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// redacted keys never reach the log, whatever the caller passes.
var redacted = map[string]bool{"password": true, "token": true, "password_hash": true}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if caller, ok := auth.CallerFromContext(ctx); ok {
		attrs = append(attrs, slog.String("caller_uid", caller.UID), slog.String("caller_role", caller.Role.String()))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !redacted[strings.ToLower(k)] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	if ctx == nil {
		ctx = context.Background()
	}
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
