package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"list39.org/internal/auth"
	"list39.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	original := *obs.Logger()
	var buf bytes.Buffer
	obs.SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { obs.SetLogger(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{AccountID: "acct-42"})

	if err := LogEvent(ctx, "agentfact.create", map[string]any{"username": "bot1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "agentfact.create" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["account_id"] != "acct-42" {
		t.Fatalf("unexpected account id: %v", entry["account_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["username"] != "bot1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventFallsBackToRouterRequestID(t *testing.T) {
	buf := captureLog(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "chi-req-1")
	if err := LogEvent(ctx, "auth.login", nil); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["request_id"] != "chi-req-1" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if _, ok := entry["account_id"]; ok {
		t.Fatalf("anonymous event must not carry an account id")
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
