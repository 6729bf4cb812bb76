package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/datasource/demo"
)

// runCLI executes the root command with args in an isolated home directory.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		cfgFile, jsonOutput, jsonlOutput, verbose, logLevel, nonInteractive = "", false, false, false, "", false
		sourceFlag, hierarchyFlag = "", ""
		dumpLimit, dumpSort, dumpFilter, dumpExpand, dumpExpandAll, dumpColumns, dumpEvents, dumpRootOnly = 0, nil, nil, nil, false, nil, "", false
		seedOpts = demo.DefaultOptions()
		configInitForce, browseFresh, serveListen, serveWatch = false, false, "", false
	}
	reset()
	t.Cleanup(reset)
}

// testHome points HOME at a temp dir and writes a config file there.
func testHome(t *testing.T, body string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(home, "gridctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const testConfig = `
global:
  data_dir: %s/data
  config_dir: %s/config
logging:
  level: error
grid:
  page_size: 7
datasource:
  kind: memory
  hierarchy: agents
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := testHome(t, "")
	home := filepath.Dir(path)
	body := strings.ReplaceAll(testConfig, "%s", home)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestHasRobotHelpFlag(t *testing.T) {
	assert.True(t, hasRobotHelpFlag([]string{"dump", "--robot-help"}))
	assert.False(t, hasRobotHelpFlag([]string{"dump", "--", "--robot-help"}))
	assert.False(t, hasRobotHelpFlag(nil))
}

func TestVersionJSON(t *testing.T) {
	cfg := writeTestConfig(t)
	SetVersionInfo("1.2.3", "abc", "today")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	out, err := runCLI(t, "--config", cfg, "version", "--json")
	require.NoError(t, err)

	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc", info.Commit)
	assert.NotEmpty(t, info.Go)
}

func TestDumpMemoryVolumes(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfg, "--hierarchy", "volumes", "dump", "--limit", "5")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[0], "CAPACITY")
	assert.Contains(t, lines[1], "volume")
}

func TestDumpJSONLExpandAll(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfg, "--jsonl", "dump", "--limit", "30", "--expand-all", "--sort", "session_count:desc")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 30)
	var first, second DumpRow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, 0, first.Level)
	assert.Equal(t, 1, second.Level)
	assert.Equal(t, first.ID, second.ParentID)
}

func TestDumpRejectsBadSort(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "dump", "--sort", "id:sideways")
	require.Error(t, err)
}

func TestSeedSQLiteThenDump(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfg, "--source", "sqlite", "seed",
		"--groups", "1", "--agents-per-group", "3", "--max-sessions", "2", "--volumes", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded sqlite")
	assert.Contains(t, out, "Next steps:")

	out, err = runCLI(t, "--config", cfg, "--source", "sqlite", "--hierarchy", "volumes", "--json", "dump")
	require.NoError(t, err)
	var rows []DumpRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Len(t, rows, 4)
}

func TestSeedRejectsMemory(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "seed")
	var preflight *PreflightError
	require.True(t, errors.As(err, &preflight))
	assert.Contains(t, preflight.Error(), "hint:")
}

func TestBrowseRequiresTerminal(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "--non-interactive", "browse")
	var preflight *PreflightError
	require.True(t, errors.As(err, &preflight))
	assert.Contains(t, preflight.NextStep, "gridctl dump")
}

func TestServeRejectsRemoteSource(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "--source", "grpc", "serve")
	var preflight *PreflightError
	require.True(t, errors.As(err, &preflight))
}

func TestUnknownSourceFailsValidation(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "--source", "redis", "dump")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfigInitAndPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(home, "fresh", "config.yaml")

	out, err := runCLI(t, "--config", path, "--json", "config", "init")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, true, payload["created"])
	assert.FileExists(t, path)

	loaded, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Grid.PageSize, loaded.Grid.PageSize)

	out, err = runCLI(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = runCLI(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfg := writeTestConfig(t)
	t.Setenv("DATABASE_URL", "postgres://grid:hunter2@db:5432/grid")

	out, err := runCLI(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "grid.page_size")
	assert.NotContains(t, out, "hunter2")
}

func TestConfigViewClear(t *testing.T) {
	cfg := writeTestConfig(t)
	home := filepath.Dir(cfg)
	store := config.NewViewStateStore(filepath.Join(home, "config", "view.yaml"))
	require.NoError(t, store.Save(&config.ViewState{Hierarchy: "agents", Sort: []string{"id:desc"}}))

	out, err := runCLI(t, "--config", cfg, "config", "view")
	require.NoError(t, err)
	assert.Contains(t, out, "agents sort:id:desc")

	out, err = runCLI(t, "--config", cfg, "config", "view", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared")
	assert.NoFileExists(t, store.Path())
}

func TestCommandSurfaceListsCommands(t *testing.T) {
	data, err := CommandSurfaceJSON()
	require.NoError(t, err)

	var manifest SurfaceManifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "gridctl", manifest.CLI)

	names := make([]string, 0, len(manifest.Commands))
	for _, c := range manifest.Commands {
		names = append(names, c.Name)
	}
	for _, want := range []string{"browse", "config", "dump", "seed", "serve", "version"} {
		assert.Contains(t, names, want)
	}
}
