// Package config handles gridctl configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
)

// DataSourceKind selects the page provider behind the grid.
type DataSourceKind string

const (
	DataSourceMemory   DataSourceKind = "memory"
	DataSourceSQLite   DataSourceKind = "sqlite"
	DataSourcePostgres DataSourceKind = "postgres"
	DataSourceGRPC     DataSourceKind = "grpc"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root configuration structure for gridctl.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Grid engine tuning
	Grid GridConfig `yaml:"grid" mapstructure:"grid"`

	// Where rows come from
	DataSource DataSourceConfig `yaml:"datasource" mapstructure:"datasource"`

	// Page service settings for `gridctl serve`
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where gridctl stores its data (default: ~/.local/share/gridctl).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/gridctl).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path. The TUI always logs to a file.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// GridConfig tunes the grid engine.
type GridConfig struct {
	// PageSize is the number of rows per fetch.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// ViewportRows is the number of visible rows when the terminal height is unknown.
	ViewportRows int `yaml:"viewport_rows" mapstructure:"viewport_rows"`

	// Overscan is the number of extra rows rendered above and below the viewport.
	Overscan int `yaml:"overscan" mapstructure:"overscan"`

	// ScrollDebounce is how long the window must be still before it is idle.
	ScrollDebounce time.Duration `yaml:"scroll_debounce" mapstructure:"scroll_debounce"`

	// FetchTimeout bounds a single page fetch. Zero leaves it to the source.
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`

	// MaxConcurrentFetches bounds in-flight page requests per grid.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
}

// DataSourceConfig selects and configures the page provider.
type DataSourceConfig struct {
	// Kind is memory, sqlite, postgres or grpc.
	Kind DataSourceKind `yaml:"kind" mapstructure:"kind"`

	// Hierarchy is the row tree to browse (agents, resource_groups, volumes).
	Hierarchy string `yaml:"hierarchy" mapstructure:"hierarchy"`

	// Path is the SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// Addr is the remote page service address.
	Addr string `yaml:"addr" mapstructure:"addr"`

	// Latency delays every in-memory page, to demo loading states.
	Latency time.Duration `yaml:"latency" mapstructure:"latency"`

	// BusyTimeoutMs is how long SQLite waits for a locked database.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// ServerConfig configures the gRPC page service.
type ServerConfig struct {
	// Listen is the address to serve on.
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, dark, light).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowLevel prefixes child rows with their nesting marker.
	ShowLevel bool `yaml:"show_level" mapstructure:"show_level"`

	// RestoreView reopens the last sort, filter and expansion state.
	RestoreView bool `yaml:"restore_view" mapstructure:"restore_view"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "gridctl")

	return &Config{
		Global: GlobalConfig{
			DataDir:   dataDir,
			ConfigDir: filepath.Join(homeDir, ".config", "gridctl"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Grid: GridConfig{
			PageSize:             50,
			ViewportRows:         20,
			Overscan:             5,
			ScrollDebounce:       150 * time.Millisecond,
			MaxConcurrentFetches: 4,
		},
		DataSource: DataSourceConfig{
			Kind:          DataSourceMemory,
			Hierarchy:     "agents",
			Path:          "", // Will be set to DataDir/grid.db
			Addr:          "127.0.0.1:7070",
			BusyTimeoutMs: 5000,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7070",
		},
		TUI: TUIConfig{
			Theme:       "default",
			ShowLevel:   true,
			RestoreView: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Grid.PageSize < 1 {
		return fmt.Errorf("%w: grid.page_size must be at least 1", ErrInvalidConfig)
	}
	if c.Grid.ViewportRows < 1 {
		return fmt.Errorf("%w: grid.viewport_rows must be at least 1", ErrInvalidConfig)
	}
	if c.Grid.Overscan < 0 {
		return fmt.Errorf("%w: grid.overscan must not be negative", ErrInvalidConfig)
	}
	if c.Grid.ScrollDebounce < 0 || c.Grid.FetchTimeout < 0 {
		return fmt.Errorf("%w: grid durations must not be negative", ErrInvalidConfig)
	}
	if c.Grid.MaxConcurrentFetches < 1 {
		return fmt.Errorf("%w: grid.max_concurrent_fetches must be at least 1", ErrInvalidConfig)
	}

	switch c.DataSource.Kind {
	case DataSourceMemory, DataSourceSQLite:
	case DataSourcePostgres:
		if c.DataSource.DSN == "" {
			return fmt.Errorf("%w: datasource.dsn is required for postgres", ErrInvalidConfig)
		}
	case DataSourceGRPC:
		if c.DataSource.Addr == "" {
			return fmt.Errorf("%w: datasource.addr is required for grpc", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: datasource.kind must be one of memory, sqlite, postgres, grpc", ErrInvalidConfig)
	}
	if _, err := sqlquery.LookupHierarchy(c.DataSource.Hierarchy); err != nil {
		return fmt.Errorf("%w: datasource.hierarchy: %w", ErrInvalidConfig, err)
	}

	switch c.TUI.Theme {
	case "default", "dark", "light":
	default:
		return fmt.Errorf("%w: tui.theme must be one of default, dark, light", ErrInvalidConfig)
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full SQLite database path.
func (c *Config) DatabasePath() string {
	if c.DataSource.Path != "" {
		return c.DataSource.Path
	}
	return filepath.Join(c.Global.DataDir, "grid.db")
}

// ViewStatePath returns where the TUI remembers its view.
func (c *Config) ViewStatePath() string {
	return filepath.Join(c.Global.ConfigDir, "view.yaml")
}
