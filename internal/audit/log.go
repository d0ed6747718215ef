package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"list39.org/internal/auth"
	"list39.org/internal/obs"
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

// requestIDFromContext prefers an explicit audit id and falls back to the
// id assigned by the router's RequestID middleware.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return middleware.GetReqID(ctx)
}

// LogEvent writes an audit log entry enriched with request and account context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}

	entry := obs.Logger().Info().
		Str("type", "audit").
		Str("event", event)
	if rid := requestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if accountID, ok := auth.AccountIDFromContext(ctx); ok {
		entry = entry.Str("account_id", accountID)
	}
	entry.Interface("fields", copyFields).Send()
	return nil
}
