// Package cli implements the gridctl command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/logging"
)

var (
	cfgFile        string
	jsonOutput     bool
	jsonlOutput    bool
	verbose        bool
	logLevel       string
	nonInteractive bool

	// Per-invocation overrides of the datasource section.
	sourceFlag    string
	hierarchyFlag string

	appConfig *config.Config
	loader    *config.Loader
	logCloser io.Closer
	logger    = logging.Component("cli")
)

var rootCmd = &cobra.Command{
	Use:   "gridctl",
	Short: "Browse paged, nested dashboard data in the terminal",
	Long: `gridctl browses large row sets (agents, sessions, resource groups,
storage volumes) through a lazily paged tree grid. Rows are fetched page by
page from an in-memory demo set, SQLite, PostgreSQL or a remote page service.

Running without a subcommand opens the grid browser.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentPreRunE = initConfig
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runBrowse(cmd)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/gridctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&jsonlOutput, "jsonl", false, "output in JSON Lines format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "never open the grid browser")
	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "datasource kind (memory, sqlite, postgres, grpc)")
	rootCmd.PersistentFlags().StringVar(&hierarchyFlag, "hierarchy", "", "row tree to browse (agents, resource_groups, volumes)")
	rootCmd.PersistentFlags().Bool("robot-help", false, "machine-readable help output")
}

// Execute runs the root command.
func Execute(version, commit, date string) error {
	if hasRobotHelpFlag(os.Args[1:]) {
		printRobotHelp(os.Stdout, version)
		return nil
	}
	SetVersionInfo(version, commit, date)
	return rootCmd.Execute()
}

func hasRobotHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "--robot-help" {
			return true
		}
	}
	return false
}

func initConfig(cmd *cobra.Command, args []string) error {
	loader = config.NewLoader()
	if cfgFile != "" {
		// config init may name a file that does not exist yet.
		if _, err := os.Stat(cfgFile); err == nil || !isConfigInit(cmd) {
			loader.SetConfigFile(cfgFile)
		}
	}

	if sourceFlag != "" {
		loader.Set("datasource.kind", strings.ToLower(sourceFlag))
	}
	if hierarchyFlag != "" {
		loader.Set("datasource.hierarchy", hierarchyFlag)
	}

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	appConfig = cfg

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		File:         cfg.Logging.File,
		EnableCaller: cfg.Logging.EnableCaller,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	} else if verbose {
		logCfg.Level = "debug"
	}
	if jsonOutput || jsonlOutput {
		logCfg.Format = "json"
	}
	// The browser owns the terminal, so its logs always go to a file.
	if opensBrowser(cmd) && logCfg.File == "" {
		logCfg.File = filepath.Join(cfg.Global.DataDir, "gridctl.log")
	}
	closer, err := logging.Init(logCfg)
	if err != nil {
		return err
	}
	logCloser = closer
	logger = logging.Component("cli")

	logger.Debug().
		Str("config", loader.ConfigFileUsed()).
		Str("source", string(cfg.DataSource.Kind)).
		Str("hierarchy", cfg.DataSource.Hierarchy).
		Msg("config loaded")
	return nil
}

func isConfigInit(cmd *cobra.Command) bool {
	return cmd.Name() == "init" && cmd.HasParent() && cmd.Parent().Name() == "config"
}

func opensBrowser(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "browse"
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return appConfig
}

// IsJSONOutput returns true if JSON output is enabled.
func IsJSONOutput() bool {
	return jsonOutput
}

// IsJSONLOutput returns true if JSON Lines output is enabled.
func IsJSONLOutput() bool {
	return jsonlOutput
}

// IsVerbose returns true if verbose output is enabled.
func IsVerbose() bool {
	return verbose
}

// IsNonInteractive returns true if the grid browser must not be opened.
func IsNonInteractive() bool {
	return nonInteractive
}
