package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/datasource/remote"
	"github.com/lablup/backend.ai-sub009/internal/logging"
)

var (
	serveListen string
	serveWatch  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "address to serve on (default: server.listen)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch-config", false, "apply log level and fetch timeout edits to the config file while serving")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured datasource as a page service",
	Long: `Expose the configured datasource over gRPC so that other gridctl
instances can browse it with --source grpc.

The service answers one hierarchy, chosen by --hierarchy or
datasource.hierarchy. It cannot serve a grpc datasource itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg.DataSource.Kind == config.DataSourceGRPC {
			return &PreflightError{
				Message:  "serve needs a local datasource",
				Hint:     "Pick memory, sqlite or postgres with --source",
				NextStep: "gridctl serve --source sqlite",
			}
		}
		addr := serveListen
		if addr == "" {
			addr = cfg.Server.Listen
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		src, err := openSource(ctx, cfg)
		if err != nil {
			return err
		}
		defer src.Close()

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		serverLogger := logging.Component("serve")
		gs := grpc.NewServer(grpc.UnaryInterceptor(remote.UnaryLogger(serverLogger)))
		pageServer := remote.NewServer(src.Provider,
			remote.WithLogger(serverLogger),
			remote.WithFetchTimeout(cfg.Grid.FetchTimeout),
		)
		pageServer.Register(gs)

		if serveWatch && loader.ConfigFileUsed() != "" {
			go watchConfig(ctx, loader.ConfigFileUsed(), config.DefaultWatchDebounce,
				reloadSettings(pageServer, logging.Component("config")))
		}

		serverLogger.Info().
			Str("addr", lis.Addr().String()).
			Str("source", src.Label).
			Str("hierarchy", cfg.DataSource.Hierarchy).
			Msg("page service listening")
		if !IsJSONOutput() && !IsJSONLOutput() {
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s (%s) on %s\n", cfg.DataSource.Hierarchy, src.Label, lis.Addr())
			PrintNextSteps(cmd.OutOrStdout(), HintContext{Action: "serve", Addr: lis.Addr().String()})
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- gs.Serve(lis)
		}()

		select {
		case <-ctx.Done():
			serverLogger.Info().Msg("shutting down page service")
			gs.GracefulStop()
			return nil
		case err := <-errCh:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		}
	},
}

// watchConfig applies config file edits until ctx is done.
func watchConfig(ctx context.Context, path string, debounce time.Duration, apply func(*config.Config)) {
	w := config.NewWatcher(path, apply, nil)
	w.SetDebounce(debounce)
	if err := w.Run(ctx); err != nil {
		logging.Component("config").Warn().Err(err).Msg("config watcher stopped")
	}
}

// reloadSettings applies what a running page service can change in place.
// Datasource settings still need a restart.
func reloadSettings(srv *remote.Server, logger zerolog.Logger) func(*config.Config) {
	return func(cfg *config.Config) {
		level := logging.SetLevel(cfg.Logging.Level)
		srv.SetFetchTimeout(cfg.Grid.FetchTimeout)
		logger.Info().
			Str("level", level.String()).
			Dur("fetch_timeout", cfg.Grid.FetchTimeout).
			Str("hierarchy", cfg.DataSource.Hierarchy).
			Msg("config applied; datasource changes need a restart")
	}
}
