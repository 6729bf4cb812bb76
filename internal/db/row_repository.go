package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lablup/backend.ai-sub009/internal/datasource/demo"
	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// Row repository errors.
var (
	ErrKindMismatch = errors.New("row kind does not match table")
)

// RowRepository writes dashboard rows.
type RowRepository struct {
	db *DB
}

// NewRowRepository creates a new RowRepository.
func NewRowRepository(db *DB) *RowRepository {
	return &RowRepository{db: db}
}

// Upsert writes rows into table in one transaction, retrying while the
// database is busy.
func (r *RowRepository) Upsert(ctx context.Context, table sqlquery.Table, rows []models.Row) error {
	for i := range rows {
		if rows[i].Kind != table.Kind {
			return fmt.Errorf("%w: %s row in %s", ErrKindMismatch, rows[i].Kind, table.Name)
		}
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("invalid row %s: %w", rows[i].ID, err)
		}
	}
	return r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		return upsertTx(ctx, tx, table, rows)
	})
}

func upsertTx(ctx context.Context, tx *sql.Tx, table sqlquery.Table, rows []models.Row) error {
	for _, row := range rows {
		q := sqlquery.SQLite.Insert(table, row)
		if _, err := tx.ExecContext(ctx, q.SQL, q.Args...); err != nil {
			return fmt.Errorf("insert %s %s: %w", table.Name, row.ID, err)
		}
	}
	return nil
}

// Seed replaces the contents of every table with ds.
func (r *RowRepository) Seed(ctx context.Context, ds demo.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	groups := make([]models.Row, len(ds.Groups))
	for i := range ds.Groups {
		groups[i] = ds.Groups[i].Row()
	}
	agents := make([]models.Row, len(ds.Agents))
	for i := range ds.Agents {
		agents[i] = ds.Agents[i].Row()
	}
	sessions := make([]models.Row, len(ds.Sessions))
	for i := range ds.Sessions {
		sessions[i] = ds.Sessions[i].Row()
	}
	volumes := make([]models.Row, len(ds.Volumes))
	for i := range ds.Volumes {
		volumes[i] = ds.Volumes[i].Row()
	}

	start := time.Now()
	err := r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		for _, table := range sqlquery.Tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table.Name); err != nil {
				return fmt.Errorf("clear %s: %w", table.Name, err)
			}
		}
		for _, batch := range []struct {
			table sqlquery.Table
			rows  []models.Row
		}{
			{sqlquery.ResourceGroupsTable, groups},
			{sqlquery.AgentsTable, agents},
			{sqlquery.SessionsTable, sessions},
			{sqlquery.VolumesTable, volumes},
		} {
			if err := upsertTx(ctx, tx, batch.table, batch.rows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.db.logger.Info().
		Int("groups", len(groups)).
		Int("agents", len(agents)).
		Int("sessions", len(sessions)).
		Int("volumes", len(volumes)).
		Dur("took", time.Since(start)).
		Msg("database seeded")
	return nil
}

// Count returns the number of rows in table.
func (r *RowRepository) Count(ctx context.Context, table sqlquery.Table) (int, error) {
	if r.db.conn == nil {
		return 0, ErrClosed
	}
	var n int
	if err := r.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table.Name, err)
	}
	return n, nil
}
