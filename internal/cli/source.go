package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lablup/backend.ai-sub009/internal/config"
	"github.com/lablup/backend.ai-sub009/internal/datasource/demo"
	"github.com/lablup/backend.ai-sub009/internal/datasource/memory"
	"github.com/lablup/backend.ai-sub009/internal/datasource/postgres"
	"github.com/lablup/backend.ai-sub009/internal/datasource/remote"
	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
	"github.com/lablup/backend.ai-sub009/internal/db"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/logging"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// rowSource is an opened page provider plus what it takes to release it.
type rowSource struct {
	Provider dataprovider.PageProvider[models.Row]
	// Label describes the source in titles and logs.
	Label string
	close func() error
}

// Close releases the source's connections.
func (s *rowSource) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openSource builds the page provider selected by cfg.DataSource.
func openSource(ctx context.Context, cfg *config.Config) (*rowSource, error) {
	ds := cfg.DataSource
	switch ds.Kind {
	case config.DataSourceMemory:
		rows, err := demo.Generate(demo.DefaultOptions()).Rows(ds.Hierarchy)
		if err != nil {
			return nil, err
		}
		return &rowSource{
			Provider: memory.New(rows, memory.WithLatency(ds.Latency)),
			Label:    "memory",
		}, nil

	case config.DataSourceSQLite:
		hierarchy, err := sqlquery.LookupHierarchy(ds.Hierarchy)
		if err != nil {
			return nil, err
		}
		database, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &rowSource{
			Provider: db.NewPageProvider(database, hierarchy),
			Label:    "sqlite:" + database.Path(),
			close:    database.Close,
		}, nil

	case config.DataSourcePostgres:
		hierarchy, err := sqlquery.LookupHierarchy(ds.Hierarchy)
		if err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, ds.DSN)
		if err != nil {
			return nil, err
		}
		return &rowSource{
			Provider: postgres.New(pool, hierarchy),
			Label:    "postgres:" + logging.RedactDSN(ds.DSN),
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.DataSourceGRPC:
		client, err := remote.Dial(ds.Addr)
		if err != nil {
			return nil, err
		}
		return &rowSource{
			Provider: client,
			Label:    "grpc:" + ds.Addr,
			close:    client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown datasource kind '%s'", ds.Kind)
	}
}

// openDatabase opens and migrates the SQLite database of cfg.
func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.Open(db.Config{
		Path:         cfg.DatabasePath(),
		BusyTimeout:  time.Duration(cfg.DataSource.BusyTimeoutMs) * time.Millisecond,
		MaxOpenConns: cfg.Grid.MaxConcurrentFetches,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}
