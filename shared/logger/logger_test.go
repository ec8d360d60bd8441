package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: level, Format: "json", writer: output})
	require.NoError(t, err)
	return l, output
}

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		wantMsgs []string
	}{
		{level: "debug", wantMsgs: []string{"Job dispatched to worker pool", "Job finished", "Job status update skipped", "Failed to load job"}},
		{level: "info", wantMsgs: []string{"Job finished", "Job status update skipped", "Failed to load job"}},
		{level: "warning", wantMsgs: []string{"Job status update skipped", "Failed to load job"}},
		{level: "error", wantMsgs: []string{"Failed to load job"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, output := newJSONLogger(t, tt.level)

			l.Debug("Job dispatched to worker pool", slog.String("job_id", "job-1"))
			l.Info("Job finished", slog.String("job_id", "job-1"), slog.String("status", "ready"))
			l.Warn("Job status update skipped", slog.String("job_id", "job-1"))
			l.Error("Failed to load job", slog.String("job_id", "job-1"), slog.String("owner_id", "user-a"))

			entries := decodeLines(t, output)
			require.Len(t, entries, len(tt.wantMsgs))
			for i, entry := range entries {
				assert.Equal(t, tt.wantMsgs[i], entry["msg"])
				assert.Equal(t, "job-1", entry["job_id"])
				assert.Contains(t, entry, "time")
			}
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "console", NoColor: true, writer: output})
	require.NoError(t, err)

	l.Info("Invoice job accepted", slog.String("job_id", "job-1"), slog.String("user_id", "user-a"))

	line := output.String()
	assert.Contains(t, line, "INF")
	assert.Contains(t, line, "Invoice job accepted")
	assert.Contains(t, line, "job_id=job-1")
	assert.Contains(t, line, "user_id=user-a")
	assert.NotContains(t, line, "\x1b[")
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	l.Info("Job runner stopped")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, source["file"], "logger_test.go")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("Job dispatched", slog.String("job_id", "abc"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "Job dispatched", entry["msg"])
	assert.Equal(t, "abc", entry["job_id"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	l.Error("dropped")
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		{level: "DEBUG", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_ComponentAttributes(t *testing.T) {
	tests := []struct {
		name   string
		derive func(l *Logger) *Logger
	}{
		{
			name: "with attrs",
			derive: func(l *Logger) *Logger {
				return l.WithAttrs(slog.String("component", "runner"), slog.String("worker_id", "w-1"))
			},
		},
		{
			name: "with key values",
			derive: func(l *Logger) *Logger {
				return l.With("component", "runner", "worker_id", "w-1")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, output := newJSONLogger(t, "info")
			derived := tt.derive(l)

			derived.Info("Job finished", slog.String("job_id", "job-1"), slog.Bool("notified", true))
			l.Info("Starting invoice service")

			entries := decodeLines(t, output)
			require.Len(t, entries, 2)
			assert.Equal(t, "runner", entries[0]["component"])
			assert.Equal(t, "w-1", entries[0]["worker_id"])
			assert.Equal(t, "job-1", entries[0]["job_id"])
			assert.Equal(t, true, entries[0]["notified"])
			assert.NotContains(t, entries[1], "component")
		})
	}
}
