// Package postgres serves grid pages from PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lablup/backend.ai-sub009/internal/datasource/demo"
	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/logging"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// Provider implements dataprovider.PageProvider over a pgx pool.
type Provider struct {
	pool      *pgxpool.Pool
	hierarchy sqlquery.Hierarchy
	logger    zerolog.Logger
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", logging.RedactDSN(dsn), err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", logging.RedactDSN(dsn), err)
	}
	return pool, nil
}

// New creates a Provider for one hierarchy.
func New(pool *pgxpool.Pool, hierarchy sqlquery.Hierarchy) *Provider {
	return &Provider{
		pool:      pool,
		hierarchy: hierarchy,
		logger:    logging.Component("postgres"),
	}
}

// Pool returns the underlying pool.
func (p *Provider) Pool() *pgxpool.Pool {
	return p.pool
}

// FetchPage implements dataprovider.PageProvider.
func (p *Provider) FetchPage(ctx context.Context, req dataprovider.PageRequest[models.Row]) (dataprovider.PageResponse[models.Row], error) {
	page, err := sqlquery.Postgres.Build(p.hierarchy, req)
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, err
	}

	var size int64
	if err := p.pool.QueryRow(ctx, page.Count.SQL, page.Count.Args...).Scan(&size); err != nil {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("count %s: %w", page.Table.Name, err)
	}

	rows, err := p.pool.Query(ctx, page.Select.SQL, page.Select.Args...)
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("query %s: %w", page.Table.Name, err)
	}
	items, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.Row, error) {
		values, err := r.Values()
		if err != nil {
			return models.Row{}, err
		}
		return page.Scan(values)
	})
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("collect %s: %w", page.Table.Name, err)
	}

	p.logger.Debug().
		Str("table", page.Table.Name).
		Int("page", req.Page).
		Int("rows", len(items)).
		Int64("size", size).
		Msg("page served")

	return dataprovider.PageResponse[models.Row]{
		Items: items,
		Size:  dataprovider.SizeOf(int(size)),
	}, nil
}

// Migrate creates every dashboard table and index if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, table := range sqlquery.Tables {
			if _, err := tx.Exec(ctx, sqlquery.Postgres.CreateTable(table)); err != nil {
				return fmt.Errorf("create table %s: %w", table.Name, err)
			}
			for _, stmt := range sqlquery.Postgres.CreateIndexes(table) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("create index on %s: %w", table.Name, err)
				}
			}
		}
		return nil
	})
}

// Seed replaces the contents of every table with ds, batching the inserts.
func Seed(ctx context.Context, pool *pgxpool.Pool, ds demo.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		names := make([]string, 0, len(sqlquery.Tables))
		for _, table := range sqlquery.Tables {
			names = append(names, table.Name)
		}
		for i := len(names) - 1; i >= 0; i-- {
			if _, err := tx.Exec(ctx, "DELETE FROM "+names[i]); err != nil {
				return fmt.Errorf("clear %s: %w", names[i], err)
			}
		}

		batch := &pgx.Batch{}
		queue := func(table sqlquery.Table, row models.Row) {
			q := sqlquery.Postgres.Insert(table, row)
			batch.Queue(q.SQL, q.Args...)
		}
		for i := range ds.Groups {
			queue(sqlquery.ResourceGroupsTable, ds.Groups[i].Row())
		}
		for i := range ds.Agents {
			queue(sqlquery.AgentsTable, ds.Agents[i].Row())
		}
		for i := range ds.Sessions {
			queue(sqlquery.SessionsTable, ds.Sessions[i].Row())
		}
		for i := range ds.Volumes {
			queue(sqlquery.VolumesTable, ds.Volumes[i].Row())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
