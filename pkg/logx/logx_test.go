package logx

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// setupTestLogger sets up a logger with a bytes.Buffer for testing.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

// resetTestLogger resets the logger to default stderr.
func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("orch")

	if logger.GetComponent() != "orch" {
		t.Errorf("Expected component 'orch', got '%s'", logger.GetComponent())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("review")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	if !strings.Contains(output, "[review]") {
		t.Errorf("Expected component in output, got: %s", output)
	}

	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}

	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}

	// Check timestamp format (basic check)
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	logger := NewLogger("orch")

	tests := []struct {
		level    Level
		logFunc  func(string, ...any)
		expected string
	}{
		{LevelDebug, logger.Debug, "DEBUG"},
		{LevelInfo, logger.Info, "INFO"},
		{LevelWarn, logger.Warn, "WARN"},
		{LevelError, logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger()
			defer resetTestLogger()

			// Enable debug for DEBUG level test.
			if tt.level == LevelDebug {
				SetDebugConfig(true, nil)
				defer SetDebugConfig(false, nil)
			}

			tt.logFunc("test message")

			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.expected, output)
			}
		})
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	SetDebugConfig(true, []string{"review"})
	defer SetDebugConfig(false, nil)

	NewLogger("review").Debug("reviewer round")
	NewLogger("orch").Debug("coordinator tick")

	output := buf.String()
	if !strings.Contains(output, "reviewer round") {
		t.Errorf("Expected enabled domain to log, got: %s", output)
	}
	if strings.Contains(output, "coordinator tick") {
		t.Errorf("Expected filtered domain to be silent, got: %s", output)
	}
}

func TestWithComponent(t *testing.T) {
	originalLogger := NewLogger("orch")
	newLogger := originalLogger.WithComponent("router")

	if newLogger.GetComponent() != "router" {
		t.Errorf("Expected new component 'router', got '%s'", newLogger.GetComponent())
	}

	if originalLogger.GetComponent() != "orch" {
		t.Errorf("Expected original component unchanged, got '%s'", originalLogger.GetComponent())
	}

	buf := setupTestLogger()
	defer resetTestLogger()

	originalLogger.Info("test1")
	newLogger.Info("test2")

	output := buf.String()
	if !strings.Contains(output, "orch") {
		t.Error("Expected original logger to work")
	}
	if !strings.Contains(output, "router") {
		t.Error("Expected new logger to work")
	}
}

func TestMultipleComponents(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	orch := NewLogger("orch")
	review := NewLogger("review")

	orch.Info("Acquiring run lock")
	review.Info("Starting developer stage")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")

	if len(lines) != 2 {
		t.Errorf("Expected 2 log lines, got %d", len(lines))
	}

	if len(lines) > 0 && !strings.Contains(lines[0], "[orch]") {
		t.Errorf("Expected first line to contain [orch], got: %s", lines[0])
	}

	if len(lines) > 1 && !strings.Contains(lines[1], "[review]") {
		t.Errorf("Expected second line to contain [review], got: %s", lines[1])
	}
}

func TestTimestampFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("test")
	logger.Info("timestamp test")

	output := buf.String()

	// Extract timestamp (should be between first [ and ])
	start := strings.Index(output, "[")
	end := strings.Index(output, "]")

	if start == -1 || end == -1 || end <= start {
		t.Fatalf("Could not find timestamp in output: %s", output)
	}

	timestamp := output[start+1 : end]

	_, err := time.Parse("2006-01-02T15:04:05.000Z", timestamp)
	if err != nil {
		t.Errorf("Invalid timestamp format '%s': %v", timestamp, err)
	}
}

func TestErrorfReturnsError(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	err := Errorf("lock acquire failed: %s", "held by other")
	if err == nil {
		t.Fatal("Expected non-nil error")
	}
	if err.Error() != "lock acquire failed: held by other" {
		t.Errorf("Unexpected error text: %s", err.Error())
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("Expected ERROR line logged, got: %s", buf.String())
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "anything") != nil {
		t.Error("Expected Wrap(nil, ...) to return nil")
	}
}
