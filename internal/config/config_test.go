package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Grid.PageSize)
	assert.Equal(t, DataSourceMemory, cfg.DataSource.Kind)
	assert.Equal(t, filepath.Join(cfg.Global.DataDir, "grid.db"), cfg.DatabasePath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "zero page size", mutate: func(c *Config) { c.Grid.PageSize = 0 }},
		{name: "negative overscan", mutate: func(c *Config) { c.Grid.Overscan = -1 }},
		{name: "zero overscan", mutate: func(c *Config) { c.Grid.Overscan = 0 }, ok: true},
		{name: "unknown kind", mutate: func(c *Config) { c.DataSource.Kind = "mongo" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DataSource.Kind = DataSourcePostgres }},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.DataSource.Kind = DataSourcePostgres
			c.DataSource.DSN = "postgres://localhost/grid"
		}, ok: true},
		{name: "grpc without addr", mutate: func(c *Config) {
			c.DataSource.Kind = DataSourceGRPC
			c.DataSource.Addr = ""
		}},
		{name: "unknown hierarchy", mutate: func(c *Config) { c.DataSource.Hierarchy = "nodes" }},
		{name: "unknown theme", mutate: func(c *Config) { c.TUI.Theme = "neon" }},
		{name: "no concurrency", mutate: func(c *Config) { c.Grid.MaxConcurrentFetches = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
grid:
  page_size: 100
  overscan: 2
  scroll_debounce: 250ms
datasource:
  kind: sqlite
  path: `+filepath.Join(dir, "rows.db")+`
  hierarchy: resource_groups
tui:
  theme: dark
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Grid.PageSize)
	assert.Equal(t, 2, cfg.Grid.Overscan)
	assert.Equal(t, 250*time.Millisecond, cfg.Grid.ScrollDebounce)
	assert.Equal(t, DataSourceSQLite, cfg.DataSource.Kind)
	assert.Equal(t, filepath.Join(dir, "rows.db"), cfg.DatabasePath())
	assert.Equal(t, "resource_groups", cfg.DataSource.Hierarchy)
	assert.Equal(t, "dark", cfg.TUI.Theme)
	assert.Equal(t, 20, cfg.Grid.ViewportRows, "unset keys keep their defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "grid:\n  page_size: 100\ndatasource:\n  kind: sqlite\n")

	t.Setenv("GRID_GRID_PAGE_SIZE", "25")
	t.Setenv("GRID_DATASOURCE_KIND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://grid@localhost/grid")
	t.Setenv("GRID_LOGGING_LEVEL", "debug")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Grid.PageSize)
	assert.Equal(t, DataSourcePostgres, cfg.DataSource.Kind)
	assert.Equal(t, "postgres://grid@localhost/grid", cfg.DataSource.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "grid:\n  page_size: 0\n")
	_, err := LoadFromFile(path)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, home, expandTilde("~"))
	assert.Equal(t, filepath.Join(home, "x", "y"), expandTilde("~/x/y"))
	assert.Equal(t, "/abs", expandTilde("/abs"))
	assert.Equal(t, "", expandTilde(""))
}

func TestSettingsExposeResolvedKeys(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  listen: 0.0.0.0:9000\n")
	loader := NewLoader()
	loader.SetConfigFile(path)
	_, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, path, loader.ConfigFileUsed())

	server, ok := loader.Settings()["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:9000", server["listen"])
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "grid:\n  page_size: 10\n")

	changes := make(chan *Config, 4)
	failures := make(chan error, 4)
	w := NewWatcher(path, func(c *Config) { changes <- c }, func(err error) { failures <- err })
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "grid:\n  page_size: 30\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, 30, cfg.Grid.PageSize)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}

	writeConfig(t, dir, "grid:\n  page_size: -1\n")
	select {
	case err := <-failures:
		require.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(3 * time.Second):
		t.Fatal("invalid config was not reported")
	}
}

func TestViewStateStoreSaveLoad(t *testing.T) {
	store := NewViewStateStore(filepath.Join(t.TempDir(), "nested", "view.yaml"))

	state, err := store.Load()
	require.NoError(t, err)
	assert.True(t, state.IsEmpty())
	assert.Equal(t, "(none)", state.String())

	state.Hierarchy = "agents"
	state.SetQuery(
		[]sortfilter.SortOrder{{Path: "status", Direction: sortfilter.Desc}},
		[]sortfilter.Filter{{Path: "region", Value: "eu"}},
	)
	state.Expanded = []string{"agent/i-1"}
	state.Offset = 40
	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "agents sort:status:desc filter:region=eu expanded:1", loaded.String())
	assert.Equal(t, 40, loaded.Offset)

	sorters, filters, err := loaded.Query()
	require.NoError(t, err)
	assert.Equal(t, []sortfilter.SortOrder{{Path: "status", Direction: sortfilter.Desc}}, sorters)
	assert.Equal(t, []sortfilter.Filter{{Path: "region", Value: "eu"}}, filters)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clearing twice is fine")
	state, err = store.Load()
	require.NoError(t, err)
	assert.True(t, state.IsEmpty())
}

func TestViewStateRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sort: [unterminated"), 0o644))
	_, err := NewViewStateStore(path).Load()
	require.Error(t, err)

	state := &ViewState{Sort: []string{"id:sideways"}}
	_, _, err = state.Query()
	require.ErrorIs(t, err, sortfilter.ErrInvalidDirection)
}

func TestSetOverridesEnvAndFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "datasource:\n  kind: sqlite\n  hierarchy: volumes\n")
	t.Setenv("GRID_DATASOURCE_KIND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://grid@localhost/grid")

	loader := NewLoader()
	loader.SetConfigFile(path)
	loader.Set("datasource.kind", "memory")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DataSourceMemory, cfg.DataSource.Kind)
	assert.Equal(t, "volumes", cfg.DataSource.Hierarchy)
}

func TestSettingKeysCoverEveryLeaf(t *testing.T) {
	keys := settingKeys(DefaultConfig())
	assert.Equal(t, "memory", keys["datasource.kind"])
	assert.Equal(t, 50, keys["grid.page_size"])
	assert.Equal(t, 150*time.Millisecond, keys["grid.scroll_debounce"])
	assert.Contains(t, keys, "tui.restore_view")
	assert.NotContains(t, keys, "grid")
	assert.Equal(t, "GRID_GRID_MAX_CONCURRENT_FETCHES", envName("grid.max_concurrent_fetches"))
}
