package logger_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nodeo/pkg/utils/contextkey"
	"nodeo/pkg/utils/logger"
)

func TestLoggerWritesContextFields(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.log")
	errPath := filepath.Join(dir, "err.log")

	l, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: outPath, ErrorPath: errPath})
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = logger.WithRunID(ctx, "run-1")
	l.WithContext(ctx).Info("run finished")
	l.WithContext(ctx).Warn("slow judge")
	_ = l.Sync()

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line failed: %v", err)
	}
	if entry["trace_id"] != "trace-1" || entry["run_id"] != "run-1" {
		t.Fatalf("missing context fields: %v", entry)
	}

	errData, err := os.ReadFile(errPath)
	if err != nil {
		t.Fatalf("read error log failed: %v", err)
	}
	if !strings.Contains(string(errData), "slow judge") || strings.Contains(string(errData), "run finished") {
		t.Fatalf("unexpected error sink content: %s", errData)
	}
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := logger.NewLogger(logger.Config{Level: "verbose"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestGlobalHelpersAreNilSafe(t *testing.T) {
	logger.Info(context.Background(), "no logger configured")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync without logger failed: %v", err)
	}
}

func TestInitReplacesGlobalLogger(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	if err := logger.Init(logger.Config{Format: "json", OutputPath: first, ErrorPath: first}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	logger.Info(context.Background(), "to first")
	if err := logger.Init(logger.Config{Level: "warn", Format: "json", OutputPath: second, ErrorPath: filepath.Join(dir, "err.log")}); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	logger.Info(context.Background(), "filtered")
	logger.Warn(context.Background(), "to second")
	_ = logger.Sync()

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !strings.Contains(string(a), "to first") || strings.Contains(string(a), "to second") {
		t.Fatalf("unexpected first sink: %s", a)
	}
	if strings.Contains(string(b), "filtered") || !strings.Contains(string(b), "to second") {
		t.Fatalf("unexpected second sink: %s", b)
	}
}
