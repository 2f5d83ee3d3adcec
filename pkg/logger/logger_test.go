package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	log, err := New(Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("hello")
	_ = log.Sync()
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Level: "shouting"}); err == nil {
		t.Fatal("expected level parse error")
	}
}

func TestNewFileSink(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("to file")
	_ = log.Sync()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}
