package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	_, err := Init(Config{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(DefaultConfig()) })

	logger := WithGrid("agents")
	logger.Debug().Int("page", 2).Msg("page requested")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "grid", entry["component"])
	assert.Equal(t, "agents", entry["grid_id"])
	assert.Equal(t, float64(2), entry["page"])
	assert.Equal(t, "debug", entry["level"])
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	_, err := Init(Config{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(DefaultConfig()) })

	logger := Component("test")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "grid.log")
	closer, err := Init(Config{Level: "info", Format: "console", File: path})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(DefaultConfig()) })

	logger := Component("tui")
	logger.Info().Msg("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "started")
	assert.NotContains(t, string(data), "\x1b[", "file output must not carry colour codes")
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	_, err := Init(Config{Level: "info", Format: "json", Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(DefaultConfig()) })

	ctx := WithContext(context.Background(), Component("ctx"))
	logger := FromContext(ctx)
	logger.Info().Msg("from context")
	assert.Contains(t, buf.String(), `"component":"ctx"`)

	fallback := FromContext(context.Background())
	fallback.Info().Msg("global")
	assert.Contains(t, buf.String(), "global")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
	assert.Equal(t, "trace", parseLevel("trace").String())
	assert.Equal(t, "error", parseLevel(" ERROR ").String())
	assert.Equal(t, "info", parseLevel("").String())
}
