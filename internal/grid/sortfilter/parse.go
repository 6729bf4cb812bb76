package sortfilter

import (
	"fmt"
	"strings"
)

// ParseSortOrders parses command-line sorters of the form "path" or
// "path:desc".
func ParseSortOrders(specs []string) ([]SortOrder, error) {
	out := make([]SortOrder, 0, len(specs))
	for _, spec := range specs {
		path, dir, _ := strings.Cut(spec, ":")
		path = strings.TrimSpace(path)
		if path == "" {
			return nil, fmt.Errorf("sort %q: empty column", spec)
		}
		d := Asc
		if dir != "" {
			var err error
			if d, err = ParseDirection(dir); err != nil {
				return nil, fmt.Errorf("sort %q: %w", spec, err)
			}
		}
		out = append(out, SortOrder{Path: path, Direction: d})
	}
	return out, nil
}

// ParseFilters parses command-line filters of the form "path=value".
func ParseFilters(specs []string) ([]Filter, error) {
	out := make([]Filter, 0, len(specs))
	for _, spec := range specs {
		path, value, ok := strings.Cut(spec, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, fmt.Errorf("filter %q: expected column=value", spec)
		}
		out = append(out, Filter{Path: path, Value: value})
	}
	return out, nil
}

// Matches reports whether text satisfies the filter value.
func (f Filter) Matches(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(strings.TrimSpace(f.Value)))
}

// String formats the sorter as ParseSortOrders accepts it.
func (o SortOrder) String() string {
	if o.Direction == Desc {
		return o.Path + ":desc"
	}
	return o.Path + ":asc"
}

// String formats the filter as ParseFilters accepts it.
func (f Filter) String() string {
	return f.Path + "=" + f.Value
}
