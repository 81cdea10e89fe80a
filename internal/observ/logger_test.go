package observ

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	logger, err := NewLogger(Options{Env: "production", Level: "info", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("alert scan finished")
	logger.Debug("suppressed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "alert scan finished") {
		t.Errorf("expected info line in file, got %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Error("debug line should be filtered at info level")
	}
}
