package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected hclog.Level
	}{
		{"trace", hclog.Trace},
		{"debug", hclog.Debug},
		{"DEBUG", hclog.Debug},
		{"info", hclog.Info},
		{"warn", hclog.Warn},
		{"WARNING", hclog.Warn},
		{"error", hclog.Error},
		{"off", hclog.Off},
		{"unknown", hclog.Info}, // Default
		{"", hclog.Info},        // Default
	}

	for _, tt := range tests {
		result := ParseLogLevel(tt.input)
		if result != tt.expected {
			t.Errorf("ParseLogLevel('%s') = %v, expected %v", tt.input, result, tt.expected)
		}
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		Level:  hclog.Warn,
		Output: &buf,
		Name:   "test",
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("expected debug and info to be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "[WARN]  test: warn message") {
		t.Errorf("expected warn line, got: %s", output)
	}
	if !strings.Contains(output, "[ERROR] test: error message") {
		t.Errorf("expected error line, got: %s", output)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Output: &buf, Name: "test", JSON: true})

	logger.Named("bridge").Info("peer connected", "peers", 2)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if line["@module"] != "test.bridge" {
		t.Errorf("@module = %v, want test.bridge", line["@module"])
	}
	if line["peers"] != float64(2) {
		t.Errorf("peers = %v, want 2", line["peers"])
	}
}

func TestDefaultLoggerConfig(t *testing.T) {
	cfg := DefaultLoggerConfig()
	if cfg.Level != hclog.Info {
		t.Errorf("default level = %v, want info", cfg.Level)
	}
	if cfg.Output == nil {
		t.Error("expected default output to be set")
	}
}
