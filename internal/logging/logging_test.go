package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/messa/logline/internal/logging"
)

func TestNewWritesToStderrOnly(t *testing.T) {
	logger, closeFn, err := logging.New(false, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeFn()
	logger.Info("hello")
}

func TestNewTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closeFn, err := logging.New(true, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("debug message", "key", "value")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "debug message") {
		t.Errorf("log file missing expected record: %s", data)
	}
}

func TestNewRejectsUnwritableLogFile(t *testing.T) {
	_, _, err := logging.New(false, filepath.Join(t.TempDir(), "no-such-dir", "agent.log"))
	if err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}
