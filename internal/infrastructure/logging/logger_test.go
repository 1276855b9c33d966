package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/config"
)

func TestMavenHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewMavenHandler(&buf, nil)).With("system", "ledger")

	logger.Info("link appended", "record_id", "rec-1", "key", "019708")

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[INFO] [ledger] ["), line)
	assert.Contains(t, line, "] link appended record_id=rec-1 key=019708\n")
	assert.NotContains(t, line, "system=")
	assert.NotContains(t, line, "\033[", "non-terminal writers get no colors")
}

func TestMavenHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewMavenHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN]")
}

func TestMavenHandler_GroupsAndQuoting(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewMavenHandler(&buf, nil))

	logger.WithGroup("batch").With("run", 7).Info("done",
		"reason", "no candidate from any strategy",
		"err", errors.New("boom"),
		slog.Group("counts", "auto", 3, "review", 1))

	line := buf.String()
	assert.Contains(t, line, " batch.run=7")
	assert.Contains(t, line, ` batch.reason="no candidate from any strategy"`)
	assert.Contains(t, line, " batch.err=boom")
	assert.Contains(t, line, " batch.counts.auto=3 batch.counts.review=1")
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	logger.Debug("scored", "confidence", 4)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scored", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, float64(4), entry["confidence"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
