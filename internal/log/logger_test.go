package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG")
	require.NotNil(t, logger)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "INFO")

	WithComponent("scheduler").Info("hello")

	out := decodeLine(t, &buf)
	assert.Equal(t, "scheduler", out["component"])
	assert.Equal(t, "hello", out["msg"])
}

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "INFO")

	WithSession("t-1", "p-1", "research", "/tmp/s").Warn("slow")

	out := decodeLine(t, &buf)
	assert.Equal(t, "t-1", out["ticket_id"])
	assert.Equal(t, "p-1", out["persona_id"])
	assert.Equal(t, "research", out["phase"])
	assert.Equal(t, "/tmp/s", out["session_dir"])
	assert.Equal(t, "WARN", out["level"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "ERROR")

	WithTicket("t-1").Info("dropped")
	assert.Zero(t, buf.Len())

	Error("kept")
	out := decodeLine(t, &buf)
	assert.Equal(t, "kept", out["msg"])
}
