// Package audit writes security-relevant events to the process logger.
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/gate"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request identifier stored by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated identity, when present.
func LogEvent(ctx context.Context, logger *zap.Logger, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if logger == nil {
		logger = zap.L()
	}
	entry := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestID(ctx); rid != "" {
		entry = append(entry, zap.String("request_id", rid))
	}
	if id, ok := gate.IdentityFromContext(ctx); ok {
		entry = append(entry,
			zap.String("user_id", id.PrincipalID),
			zap.String("auth_method", string(id.Method)),
		)
	}
	copied := map[string]any{}
	if len(fields) > 0 {
		copied = maps.Clone(fields)
	}
	entry = append(entry, zap.Any("fields", copied))
	logger.Info("audit", entry...)
	return nil
}
