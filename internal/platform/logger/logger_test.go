package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("DEBUG", "text")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.Equal(t, "text", cfg.Format)

	cfg, err = ParseConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Level, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = ParseConfig("verbose", "json")
	assert.Error(t, err)
	_, err = ParseConfig("info", "xml")
	assert.Error(t, err)
}

func TestNew_WritesJSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Format: "json", Output: &buf})

	logger.Info("表示されない")
	logger.Warn("ポーリング失敗", "store", "jobs")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ポーリング失敗", record["msg"])
	assert.Equal(t, "jobs", record["store"])
	assert.Same(t, logger, slog.Default())
}
