package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/datasource/demo"
	"github.com/lablup/backend.ai-sub009/internal/datasource/postgres"
	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
	"github.com/lablup/backend.ai-sub009/internal/db"
)

var seedOpts = demo.DefaultOptions()

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().IntVar(&seedOpts.Groups, "groups", seedOpts.Groups, "resource groups to generate")
	seedCmd.Flags().IntVar(&seedOpts.AgentsPerGroup, "agents-per-group", seedOpts.AgentsPerGroup, "agents per resource group")
	seedCmd.Flags().IntVar(&seedOpts.MaxSessionsPerNode, "max-sessions", seedOpts.MaxSessionsPerNode, "upper bound of sessions per agent")
	seedCmd.Flags().IntVar(&seedOpts.Volumes, "volumes", seedOpts.Volumes, "storage volumes to generate")
	seedCmd.Flags().Uint64Var(&seedOpts.Seed, "seed", seedOpts.Seed, "random seed; the same seed yields the same rows")
}

// SeedResult reports what `gridctl seed` wrote.
type SeedResult struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Tables map[string]int `json:"tables"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill a database with demo rows",
	Long: `Generate a deterministic demo dataset and write it to the configured
SQLite or PostgreSQL datasource, replacing what the tables held.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := cmd.Context()
		ds := demo.Generate(seedOpts)

		result := SeedResult{
			Source: string(cfg.DataSource.Kind),
			Tables: map[string]int{
				sqlquery.ResourceGroupsTable.Name: len(ds.Groups),
				sqlquery.AgentsTable.Name:         len(ds.Agents),
				sqlquery.SessionsTable.Name:       len(ds.Sessions),
				sqlquery.VolumesTable.Name:        len(ds.Volumes),
			},
		}

		switch cfg.DataSource.Kind {
		case config.DataSourceSQLite:
			database, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := db.NewRowRepository(database).Seed(ctx, ds); err != nil {
				return fmt.Errorf("failed to seed database: %w", err)
			}
			result.Target = database.Path()

		case config.DataSourcePostgres:
			pool, err := postgres.Connect(ctx, cfg.DataSource.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			if err := postgres.Seed(ctx, pool, ds); err != nil {
				return fmt.Errorf("failed to seed database: %w", err)
			}
			result.Target = pool.Config().ConnConfig.Database

		default:
			return &PreflightError{
				Message:  fmt.Sprintf("cannot seed a %s datasource", cfg.DataSource.Kind),
				Hint:     "Seeding writes to sqlite or postgres",
				NextStep: "gridctl seed --source sqlite",
			}
		}

		logger.Info().
			Str("source", result.Source).
			Int("agents", len(ds.Agents)).
			Int("sessions", len(ds.Sessions)).
			Msg("demo rows seeded")

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), result)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Seeded %s (%s)\n", result.Source, result.Target)
		counts := newTable("TABLE", "ROWS").alignRight(1)
		counts.add(sqlquery.ResourceGroupsTable.Name, humanize.Comma(int64(len(ds.Groups))))
		counts.add(sqlquery.AgentsTable.Name, humanize.Comma(int64(len(ds.Agents))))
		counts.add(sqlquery.SessionsTable.Name, humanize.Comma(int64(len(ds.Sessions))))
		counts.add(sqlquery.VolumesTable.Name, humanize.Comma(int64(len(ds.Volumes))))
		if err := counts.render(out); err != nil {
			return err
		}
		PrintNextSteps(out, HintContext{
			Action:    "seed",
			Source:    result.Source,
			Hierarchy: cfg.DataSource.Hierarchy,
			Path:      result.Target,
		})
		return nil
	},
}
