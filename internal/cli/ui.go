package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/tui/gridview"
)

var browseFresh bool

func init() {
	rootCmd.AddCommand(browseCmd)
	browseCmd.Flags().BoolVar(&browseFresh, "fresh", false, "ignore the remembered view")
}

var browseCmd = &cobra.Command{
	Use:     "browse",
	Aliases: []string{"ui"},
	Short:   "Open the grid browser",
	Long: `Open the terminal grid browser on the configured datasource.

Rows load page by page as they scroll into view. Expanding a row fetches its
children lazily. Sort, filter and expansion state is remembered between runs
unless tui.restore_view is off.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBrowse(cmd)
	},
}

func runBrowse(cmd *cobra.Command) error {
	if IsNonInteractive() || !hasTTY() {
		return &PreflightError{
			Message:  "grid browser requires an interactive terminal",
			Hint:     "Run with a TTY, or use 'gridctl dump' for plain output",
			NextStep: "gridctl dump --limit 50",
		}
	}

	cfg := GetConfig()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	src, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	store := config.NewViewStateStore(cfg.ViewStatePath())
	viewCfg := gridview.Config{
		Provider:             src.Provider,
		Source:               src.Label,
		Hierarchy:            cfg.DataSource.Hierarchy,
		PageSize:             cfg.Grid.PageSize,
		FetchTimeout:         cfg.Grid.FetchTimeout,
		MaxConcurrentFetches: cfg.Grid.MaxConcurrentFetches,
		ViewportRows:         cfg.Grid.ViewportRows,
		Overscan:             cfg.Grid.Overscan,
		ScrollDebounce:       cfg.Grid.ScrollDebounce,
		Theme:                cfg.TUI.Theme,
		ShowLevel:            cfg.TUI.ShowLevel,
	}
	if cfg.TUI.RestoreView && !browseFresh {
		vs, err := store.Load()
		if err != nil {
			logger.Warn().Err(err).Str("path", store.Path()).Msg("ignoring saved view")
		} else if !vs.IsEmpty() {
			viewCfg.ViewState = vs
		}
	}

	logger.Info().Str("source", src.Label).Str("hierarchy", viewCfg.Hierarchy).Msg("opening grid browser")
	final, err := gridview.Run(viewCfg)
	if err != nil {
		return err
	}

	if cfg.TUI.RestoreView {
		if err := store.Save(&final); err != nil {
			logger.Warn().Err(err).Str("path", store.Path()).Msg("failed to save view")
		}
	}
	return nil
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
