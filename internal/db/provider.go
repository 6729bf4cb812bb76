package db

import (
	"context"
	"fmt"

	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// PageProvider serves grid pages from one hierarchy of the database.
type PageProvider struct {
	db        *DB
	hierarchy sqlquery.Hierarchy
}

// NewPageProvider creates a PageProvider.
func NewPageProvider(db *DB, hierarchy sqlquery.Hierarchy) *PageProvider {
	return &PageProvider{db: db, hierarchy: hierarchy}
}

// FetchPage implements dataprovider.PageProvider.
func (p *PageProvider) FetchPage(ctx context.Context, req dataprovider.PageRequest[models.Row]) (dataprovider.PageResponse[models.Row], error) {
	if p.db.conn == nil {
		return dataprovider.PageResponse[models.Row]{}, ErrClosed
	}
	page, err := sqlquery.SQLite.Build(p.hierarchy, req)
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, err
	}

	var size int
	if err := p.db.conn.QueryRowContext(ctx, page.Count.SQL, page.Count.Args...).Scan(&size); err != nil {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("count %s: %w", page.Table.Name, err)
	}

	rows, err := p.db.conn.QueryContext(ctx, page.Select.SQL, page.Select.Args...)
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("query %s: %w", page.Table.Name, err)
	}
	defer rows.Close()

	ncols := len(page.Columns())
	items := make([]models.Row, 0, req.PageSize)
	for rows.Next() {
		values := make([]any, ncols)
		ptrs := make([]any, ncols)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("scan %s: %w", page.Table.Name, err)
		}
		row, err := page.Scan(values)
		if err != nil {
			return dataprovider.PageResponse[models.Row]{}, err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("iterate %s: %w", page.Table.Name, err)
	}

	return dataprovider.PageResponse[models.Row]{
		Items: items,
		Size:  dataprovider.SizeOf(size),
	}, nil
}
