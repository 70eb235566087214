package logging

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		_ = Setup(Config{})
	})
	return &buf
}

func TestLoggerFormatsComponentAndFields(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, Setup(Config{Level: "debug"}))
	SetOutput(buf)

	NewLogger("registry").Info("node registered", "node_id", 3, "name", "studio")

	line := buf.String()
	assert.Contains(t, line, "[registry] [INFO] node registered")
	assert.Contains(t, line, "| name=studio, node_id=3")
}

func TestLoggerErrorValuesAreStringified(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("gateway").Warn("attempt failed", "error", errors.New("connection refused"))

	assert.Contains(t, buf.String(), "[WARN]")
	assert.Contains(t, buf.String(), "error=connection refused")
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, Setup(Config{Level: "warn"}))
	SetOutput(buf)

	logger := NewLogger("usage")
	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Error("shown")

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerWithAndRequestID(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("http").With("request_id", "abc123").Info("request")

	assert.Contains(t, buf.String(), "[http] [INFO] [abc123] request")
}

func TestFieldsOddKeyvals(t *testing.T) {
	f := fields([]any{"a", 1, "dangling"})
	assert.Equal(t, 1, f["a"])
	assert.Equal(t, "dangling", f["!BADKEY"])
}

func TestSetupRejectsBadValues(t *testing.T) {
	t.Cleanup(func() { _ = Setup(Config{}) })
	assert.Error(t, Setup(Config{Level: "chatty"}))
	assert.Error(t, Setup(Config{Format: "xml"}))
}
