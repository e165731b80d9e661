package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"taskwatch/internal/config"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNew(t *testing.T) {
	t.Run("Should fall back to info on an unknown level", func(t *testing.T) {
		log, err := New(config.LoggerConfig{Level: "chatty", OutputPaths: []string{filepath.Join(t.TempDir(), "tw.log")}})
		require.NoError(t, err)

		core := log.Desugar().Core()
		assert.False(t, core.Enabled(zapcore.DebugLevel))
		assert.True(t, core.Enabled(zapcore.InfoLevel))
	})

	t.Run("Should honour a configured level", func(t *testing.T) {
		log, err := New(config.LoggerConfig{Level: "warn", OutputPaths: []string{filepath.Join(t.TempDir(), "tw.log")}})
		require.NoError(t, err)

		core := log.Desugar().Core()
		assert.False(t, core.Enabled(zapcore.InfoLevel))
		assert.True(t, core.Enabled(zapcore.WarnLevel))
	})

	t.Run("Should write structured JSON lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tw.log")
		log, err := New(config.LoggerConfig{Level: "debug", Encoding: "json", OutputPaths: []string{path}})
		require.NoError(t, err)

		log.Infow("task reached terminal state", "task_id", "T1", "state", "succeeded")
		_ = log.Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &entry))
		assert.Equal(t, "task reached terminal state", entry["message"])
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "T1", entry["task_id"])
		assert.Contains(t, entry, "timestamp")
	})

	t.Run("Should use console encoding for anything but json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tw.log")
		log, err := New(config.LoggerConfig{Level: "info", Encoding: "xml", OutputPaths: []string{path}})
		require.NoError(t, err)

		log.Infow("waiting for child tasks", "root_task_id", "R1")
		_ = log.Sync()

		out := readLog(t, path)
		assert.Contains(t, out, "waiting for child tasks")
		assert.Contains(t, out, `"root_task_id": "R1"`)
		assert.False(t, json.Valid([]byte(strings.TrimSpace(out))))
	})

	t.Run("Should fail when an output cannot be opened", func(t *testing.T) {
		_, err := New(config.LoggerConfig{OutputPaths: []string{filepath.Join(t.TempDir(), "missing", "tw.log")}})
		assert.Error(t, err)
	})
}
