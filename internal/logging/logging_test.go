package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("capture.burst", "a-1", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("verification.submit", "a-2", base)

	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to reach the wrapped error")
	}
	if got := err.Error(); got != "verification.submit (attempt_id=a-2): boom" {
		t.Fatalf("unexpected message: %s", got)
	}

	bare := NewOperationError("device.list", "", base)
	if got := bare.Error(); got != "device.list: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerWritesFileCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faceid.log")
	logger, err := NewLogger(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	WithOperation(logger, "test.op", "a-3").Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"attempt_id":"a-3"`) {
		t.Fatalf("expected attempt id in file log, got %s", data)
	}
}
