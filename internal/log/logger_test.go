package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "text")
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	// Only the first call wins.
	Setup("ERROR", "json")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewJSONCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "json").With(slog.String("session_id", "s-1"))
	l.Debug("hidden")
	l.Info("hello", "n", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, float64(2), entry["n"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "TEXT").Info("hello", "component", "api")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "component=api")
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = New(&buf, "debug", "json")

	WithComponent("controller").Info("c")
	WithSession("abc").Info("s")

	out := buf.String()
	assert.Contains(t, out, `"component":"controller"`)
	assert.Contains(t, out, `"session_id":"abc"`)
}
