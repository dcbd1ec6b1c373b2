package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codejudge/pkg/utils/contextkey"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestContextFieldsWrittenAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "judge.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPath: path}); err != nil {
		t.Fatalf("init logger failed: %v", err)
	}
	t.Cleanup(func() { globalLogger = nil })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.RunID, "run-7")
	Info(ctx, "batch submitted")
	if err := Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, line)
	}
	if entry["msg"] != "batch submitted" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["trace_id"] != "trace-1" || entry["run_id"] != "run-7" {
		t.Errorf("context fields missing: %v", entry)
	}
	if _, ok := entry["request_id"]; ok {
		t.Error("request_id should be absent when not in context")
	}
}

func TestGlobalFunctionsWithoutInit(t *testing.T) {
	globalLogger = nil
	Warn(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without init should be a no-op, got %v", err)
	}
}
