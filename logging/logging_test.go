package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocdprep.log")
	logger, err := New(Options{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("cleaning finished")
	logger.Debug("should be filtered")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "cleaning finished") {
		t.Errorf("log file missing info entry: %s", data)
	}
	if strings.Contains(string(data), "should be filtered") {
		t.Errorf("debug entry written at info level")
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
