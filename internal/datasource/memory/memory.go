// Package memory serves grid pages from rows held in memory. Column paths are
// JSONPath expressions evaluated against each row's fields.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// Source is an in-memory page provider for dashboard rows.
type Source struct {
	latency time.Duration

	mu       sync.RWMutex
	roots    []models.Row
	children map[string][]models.Row

	exprMu sync.Mutex
	exprs  map[string]jp.Expr
}

// Option configures a Source.
type Option func(*Source)

// WithLatency delays every page by d, for demos of the loading state.
func WithLatency(d time.Duration) Option {
	return func(s *Source) {
		s.latency = d
	}
}

// New creates a Source from rows. Rows with a ParentID become children of the
// row with that ID.
func New(rows []models.Row, opts ...Option) *Source {
	s := &Source{exprs: make(map[string]jp.Expr)}
	for _, opt := range opts {
		opt(s)
	}
	s.Replace(rows)
	return s
}

// Replace swaps the served rows.
func (s *Source) Replace(rows []models.Row) {
	roots := make([]models.Row, 0, len(rows))
	children := make(map[string][]models.Row)
	for _, row := range rows {
		if row.ParentID == "" {
			roots = append(roots, row)
			continue
		}
		children[row.ParentID] = append(children[row.ParentID], row)
	}

	s.mu.Lock()
	s.roots = roots
	s.children = children
	s.mu.Unlock()
}

// Len returns the number of top-level rows.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roots)
}

// FetchPage implements dataprovider.PageProvider.
func (s *Source) FetchPage(ctx context.Context, req dataprovider.PageRequest[models.Row]) (dataprovider.PageResponse[models.Row], error) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return dataprovider.PageResponse[models.Row]{}, ctx.Err()
		}
	}
	if req.Page < 0 || req.PageSize < 1 {
		return dataprovider.PageResponse[models.Row]{}, fmt.Errorf("%w: page size %d", dataprovider.ErrBadRequest, req.PageSize)
	}

	s.mu.RLock()
	var rows []models.Row
	if req.ParentItem != nil {
		rows = append(rows, s.children[req.ParentItem.ID]...)
	} else {
		rows = append(rows, s.roots...)
	}
	s.mu.RUnlock()

	rows, err := s.filter(rows, req.Filters)
	if err != nil {
		return dataprovider.PageResponse[models.Row]{}, err
	}
	if err := s.sort(rows, req.SortOrders); err != nil {
		return dataprovider.PageResponse[models.Row]{}, err
	}

	size := len(rows)
	start := req.Page * req.PageSize
	if start > size {
		start = size
	}
	end := start + req.PageSize
	if end > size {
		end = size
	}
	return dataprovider.PageResponse[models.Row]{
		Items: rows[start:end],
		Size:  dataprovider.SizeOf(size),
	}, nil
}

func (s *Source) expr(path string) (jp.Expr, error) {
	s.exprMu.Lock()
	defer s.exprMu.Unlock()
	if x, ok := s.exprs[path]; ok {
		return x, nil
	}
	selector := path
	if !strings.HasPrefix(selector, "$") {
		selector = "$." + selector
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid column path '%s': %w", dataprovider.ErrBadRequest, path, err)
	}
	s.exprs[path] = x
	return x, nil
}

func (s *Source) value(x jp.Expr, row models.Row) any {
	if row.Fields == nil {
		return nil
	}
	return x.First(row.Fields)
}

func (s *Source) carried(x jp.Expr, rows []models.Row) bool {
	for _, row := range rows {
		if s.value(x, row) != nil {
			return true
		}
	}
	return false
}

func (s *Source) filter(rows []models.Row, filters []sortfilter.Filter) ([]models.Row, error) {
	if len(filters) == 0 {
		return rows, nil
	}
	// A path no row of the node carries belongs to another level and is
	// skipped here.
	active := make([]sortfilter.Filter, 0, len(filters))
	exprs := make([]jp.Expr, 0, len(filters))
	for _, f := range filters {
		x, err := s.expr(f.Path)
		if err != nil {
			return nil, err
		}
		if !s.carried(x, rows) {
			continue
		}
		active = append(active, f)
		exprs = append(exprs, x)
	}
	if len(active) == 0 {
		return rows, nil
	}

	out := rows[:0]
	for _, row := range rows {
		keep := true
		for i, f := range active {
			if !f.Matches(Text(s.value(exprs[i], row))) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Source) sort(rows []models.Row, sorters []sortfilter.SortOrder) error {
	if len(sorters) == 0 {
		return nil
	}
	exprs := make([]jp.Expr, len(sorters))
	for i, o := range sorters {
		x, err := s.expr(o.Path)
		if err != nil {
			return err
		}
		exprs[i] = x
	}

	sort.SliceStable(rows, func(a, b int) bool {
		for i, o := range sorters {
			c := Compare(s.value(exprs[i], rows[a]), s.value(exprs[i], rows[b]))
			if c == 0 {
				continue
			}
			if o.Direction == sortfilter.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// Text renders a field value for filtering.
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// Compare orders two field values. Numbers compare numerically, booleans
// false before true, and nil sorts after everything else.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(Text(a), Text(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
