// Package sortfilter normalizes the active sorters and filters of a grid and
// invalidates the grid's cache when the effective parameter set changes.
package sortfilter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Direction is the sort direction of a column.
type Direction string

const (
	None Direction = ""
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ErrInvalidDirection is returned for unknown direction strings.
var ErrInvalidDirection = errors.New("invalid sort direction")

// ParseDirection converts a string into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Next returns the direction a header click moves to.
func (d Direction) Next() Direction {
	switch d {
	case None:
		return Asc
	case Asc:
		return Desc
	default:
		return None
	}
}

// SortOrder is one active sorter.
type SortOrder struct {
	Path      string    `json:"path"`
	Direction Direction `json:"direction"`
}

// Filter is one active column filter. Providers match Value as a
// case-insensitive substring of the column.
type Filter struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Normalize drops inactive sorters and empty filters, keeps the first sorter
// per path and lets the last filter value per path win. Filters keep the
// position of their first occurrence.
func Normalize(sorters []SortOrder, filters []Filter) ([]SortOrder, []Filter) {
	outSorters := make([]SortOrder, 0, len(sorters))
	seen := make(map[string]bool, len(sorters))
	for _, s := range sorters {
		if s.Direction == None || s.Path == "" || seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		outSorters = append(outSorters, s)
	}

	outFilters := make([]Filter, 0, len(filters))
	pos := make(map[string]int, len(filters))
	for _, f := range filters {
		if f.Path == "" {
			continue
		}
		if i, ok := pos[f.Path]; ok {
			outFilters[i].Value = f.Value
			continue
		}
		pos[f.Path] = len(outFilters)
		outFilters = append(outFilters, f)
	}
	kept := outFilters[:0]
	for _, f := range outFilters {
		if strings.TrimSpace(f.Value) != "" {
			kept = append(kept, f)
		}
	}
	return outSorters, kept
}

// Key serializes a normalized parameter set. Equal keys mean equal provider
// calls.
func Key(sorters []SortOrder, filters []Filter) string {
	data, _ := json.Marshal(struct {
		S []SortOrder `json:"s"`
		F []Filter    `json:"f"`
	}{sorters, filters})
	return string(data)
}

// InvalidateFunc receives the normalized parameters after a change.
type InvalidateFunc func(sorters []SortOrder, filters []Filter)

// Pipeline tracks the active parameters of one grid.
type Pipeline struct {
	mu         sync.Mutex
	key        string
	sorters    []SortOrder
	filters    []Filter
	invalidate InvalidateFunc
}

// NewPipeline creates a pipeline that calls invalidate on every effective
// change. invalidate may be nil.
func NewPipeline(invalidate InvalidateFunc) *Pipeline {
	s, f := Normalize(nil, nil)
	return &Pipeline{
		key:        Key(s, f),
		invalidate: invalidate,
	}
}

// Apply replaces the active parameters. It returns true and invokes the
// invalidation callback when the normalized set differs from the previous one.
func (p *Pipeline) Apply(sorters []SortOrder, filters []Filter) bool {
	p.mu.Lock()
	changed, s, f := p.applyLocked(sorters, filters)
	p.mu.Unlock()

	if changed && p.invalidate != nil {
		p.invalidate(s, f)
	}
	return changed
}

func (p *Pipeline) applyLocked(sorters []SortOrder, filters []Filter) (bool, []SortOrder, []Filter) {
	s, f := Normalize(sorters, filters)
	key := Key(s, f)
	if key == p.key {
		return false, nil, nil
	}
	p.key = key
	p.sorters = s
	p.filters = f
	return true, clone(s), clone(f)
}

// ToggleSort advances the direction of path (none, asc, desc, none) and
// returns the new direction. A newly activated column sorts after the
// columns that were already active.
func (p *Pipeline) ToggleSort(path string) Direction {
	p.mu.Lock()
	sorters := clone(p.sorters)
	next := Asc
	found := false
	for i := range sorters {
		if sorters[i].Path == path {
			next = sorters[i].Direction.Next()
			sorters[i].Direction = next
			found = true
			break
		}
	}
	if !found {
		sorters = append(sorters, SortOrder{Path: path, Direction: Asc})
	}
	changed, s, f := p.applyLocked(sorters, p.filters)
	p.mu.Unlock()

	if changed && p.invalidate != nil {
		p.invalidate(s, f)
	}
	return next
}

// SetFilter sets or clears (empty value) the filter of one column.
func (p *Pipeline) SetFilter(path, value string) bool {
	p.mu.Lock()
	filters := append(clone(p.filters), Filter{Path: path, Value: value})
	changed, s, f := p.applyLocked(p.sorters, filters)
	p.mu.Unlock()

	if changed && p.invalidate != nil {
		p.invalidate(s, f)
	}
	return changed
}

// Direction returns the active direction of path.
func (p *Pipeline) Direction(path string) Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sorters {
		if s.Path == path {
			return s.Direction
		}
	}
	return None
}

// SortOrders returns a copy of the active sorters.
func (p *Pipeline) SortOrders() []SortOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clone(p.sorters)
}

// Filters returns a copy of the active filters.
func (p *Pipeline) Filters() []Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clone(p.filters)
}

func clone[E any](in []E) []E {
	if in == nil {
		return nil
	}
	out := make([]E, len(in))
	copy(out, in)
	return out
}
