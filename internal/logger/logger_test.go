package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reqshield/internal/models"
	"reqshield/internal/version"
)

var testInfo = version.Info{
	Version:    "1.0.0",
	GitCommit:  "abc1234",
	BuildDate:  "2026-09-30T08:00:00Z",
	InstanceID: "3f1b6a7e-6a43-4a3e-9d86-8e8c9f3b2a10",
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "warning alias", input: "warning", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "uppercase", input: "DEBUG", expected: slog.LevelDebug},
		{name: "invalid", input: "invalid", expectErr: true},
		{name: "empty", input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for input %q: %v", tt.input, err)
				return
			}
			if level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestSetupStdout(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := models.LoggingConfig{Level: "info", Format: format, Output: "stdout"}

		logger, closer, err := Setup(cfg, testInfo)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", format, err)
		}
		if closer != nil {
			t.Errorf("%s: expected nil closer for stdout", format)
		}
		if logger == nil {
			t.Fatalf("%s: expected non-nil logger", format)
		}
	}
}

func TestSetupFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "reqshield.log")

	cfg := models.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, closer, err := Setup(cfg, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer == nil {
		t.Fatal("expected non-nil closer for file output")
	}
	defer closer.Close()

	logger.Warn("Request denied", "key", "ip:203.0.113.9", "class", "auth")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["msg"] != "Request denied" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["key"] != "ip:203.0.113.9" {
		t.Errorf("unexpected key: %v", entry["key"])
	}
	if entry["version"] != "1.0.0" || entry["instance_id"] != testInfo.InstanceID {
		t.Errorf("global fields missing: %v", entry)
	}
}

func TestSetupErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.LoggingConfig
	}{
		{"invalid level", models.LoggingConfig{Level: "invalid", Format: "json", Output: "stdout"}},
		{"file missing path", models.LoggingConfig{Level: "info", Format: "json", Output: "file"}},
		{"unwritable file", models.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: "/nonexistent/directory/reqshield.log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Setup(tt.cfg, testInfo); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "text", slog.LevelInfo))

	logger.Info("Storage configured", "dsn", "postgres://user:hunter2@db/reqshield", "Token", "s3cret", "type", "postgres")

	output := buf.String()
	if strings.Contains(output, "hunter2") || strings.Contains(output, "s3cret") {
		t.Errorf("secret leaked into log output: %s", output)
	}
	if !strings.Contains(output, "type=postgres") {
		t.Errorf("non-sensitive attribute missing: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "text", slog.LevelWarn))

	logger.Info("should not appear")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Error("info message should have been filtered by warn level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("warn message should have appeared")
	}
}
