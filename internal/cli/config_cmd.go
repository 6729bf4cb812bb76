package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/logging"
)

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd, configInitCmd, configShowCmd, configViewCmd)
	configViewCmd.AddCommand(configViewClearCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create gridctl configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]any{"path": path})
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		created, err := writeDefaultConfig(path, configInitForce)
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]any{"path": path, "created": created})
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to overwrite)\n", path)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved settings",
	Long:  "Print every resolved setting after files, environment and flags. Secrets are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := logging.RedactMap(loader.Settings())
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), settings)
		}
		keys := make([]string, 0)
		flat := make(map[string]string)
		flattenSettings("", settings, flat)
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, flat[k]})
		}
		return writeTable(cmd.OutOrStdout(), []string{"KEY", "VALUE"}, rows)
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the remembered browser view",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewViewStateStore(GetConfig().ViewStatePath())
		vs, err := store.Load()
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), vs)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", vs)
		return err
	},
}

var configViewClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the remembered browser view",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewViewStateStore(GetConfig().ViewStatePath())
		if err := store.Clear(); err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]any{"cleared": store.Path()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", store.Path())
		PrintNextSteps(cmd.OutOrStdout(), HintContext{Action: "view_clear"})
		return nil
	},
}

// configFilePath returns the file in use, or where init would write one.
func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if loader != nil && loader.ConfigFileUsed() != "" {
		return loader.ConfigFileUsed()
	}
	return filepath.Join(GetConfig().Global.ConfigDir, "config.yaml")
}

func writeDefaultConfig(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return false, fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write config: %w", err)
	}
	return true, nil
}

func flattenSettings(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenSettings(key, nested, out)
			continue
		}
		out[key] = fmt.Sprint(v)
	}
}
