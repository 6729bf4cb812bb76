package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "GRID"

// Loader resolves a Config from, in rising precedence, defaults, the config
// file, GRID_* environment variables and values Set by the caller.
type Loader struct {
	v          *viper.Viper
	configFile string
}

func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile pins the config file. Without it the loader searches
// $XDG_CONFIG_HOME/gridctl, ~/.config/gridctl and the working directory,
// and a missing file is not an error.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

func (l *Loader) Load() (*Config, error) {
	defaults := DefaultConfig()
	for key, value := range settingKeys(defaults) {
		l.v.SetDefault(key, value)
		// Every key needs an explicit binding or Unmarshal ignores the env.
		_ = l.v.BindEnv(key, envName(key))
	}
	_ = l.v.BindEnv("datasource.dsn", envName("datasource.dsn"), "DATABASE_URL")

	if err := l.readFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for _, p := range []*string{&cfg.Global.DataDir, &cfg.Global.ConfigDir, &cfg.DataSource.Path, &cfg.Logging.File} {
		*p = expandTilde(*p)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) readFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		l.v.AddConfigPath(filepath.Join(xdg, "gridctl"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "gridctl"))
	}
	l.v.AddConfigPath(".")

	var notFound viper.ConfigFileNotFoundError
	if err := l.v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}

func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Settings returns the resolved settings tree keyed like the YAML file.
func (l *Loader) Settings() map[string]any {
	return l.v.AllSettings()
}

// Set overrides a key above every other source.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

func LoadFromFile(path string) (*Config, error) {
	l := NewLoader()
	l.SetConfigFile(path)
	return l.Load()
}

// settingKeys flattens cfg into dotted mapstructure keys and their values.
func settingKeys(cfg *Config) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, v reflect.Value)
	walk = func(prefix string, v reflect.Value) {
		t := v.Type()
		for i := range t.NumField() {
			name := t.Field(i).Tag.Get("mapstructure")
			if name == "" || name == "-" {
				continue
			}
			if prefix != "" {
				name = prefix + "." + name
			}
			field := v.Field(i)
			switch field.Kind() {
			case reflect.Struct:
				walk(name, field)
			case reflect.String:
				out[name] = field.String()
			default:
				out[name] = field.Interface()
			}
		}
	}
	walk("", reflect.ValueOf(cfg).Elem())
	return out
}

// envName maps datasource.path to GRID_DATASOURCE_PATH.
func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
