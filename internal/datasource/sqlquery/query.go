package sqlquery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lablup/backend.ai-sub009/internal/grid/dataprovider"
	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
	"github.com/lablup/backend.ai-sub009/internal/models"
)

// Query builder errors. Those caused by the request wrap
// dataprovider.ErrBadRequest.
var (
	ErrUnknownColumn    = fmt.Errorf("%w: unknown column", dataprovider.ErrBadRequest)
	ErrNoChildLevel     = fmt.Errorf("%w: no child level", dataprovider.ErrBadRequest)
	ErrInvalidPage      = fmt.Errorf("%w: invalid page", dataprovider.ErrBadRequest)
	ErrUnknownHierarchy = errors.New("unknown hierarchy")
)

// ChildCountColumn is appended to the select list when the table has a
// child level.
const ChildCountColumn = "child_count"

// Dialect selects placeholder and type syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Query is a statement with its bound arguments.
type Query struct {
	SQL  string
	Args []any
}

type args struct {
	dialect Dialect
	values  []any
}

func (a *args) bind(v any) string {
	a.values = append(a.values, v)
	return a.dialect.placeholder(len(a.values))
}

// Page is a compiled page request.
type Page struct {
	Table Table
	Child *Table

	// Select returns the rows of the page.
	Select Query

	// Count returns the node size under the same filters.
	Count Query
}

// Columns returns the select list names in scan order.
func (p Page) Columns() []string {
	cols := make([]string, 0, len(p.Table.Columns)+1)
	for _, c := range p.Table.Columns {
		cols = append(cols, c.Name)
	}
	if p.Child != nil {
		cols = append(cols, ChildCountColumn)
	}
	return cols
}

// Build compiles req against h.
func (d Dialect) Build(h Hierarchy, req dataprovider.PageRequest[models.Row]) (Page, error) {
	if req.Page < 0 || req.PageSize < 1 {
		return Page{}, fmt.Errorf("%w: page %d size %d", ErrInvalidPage, req.Page, req.PageSize)
	}
	table, child, err := h.Resolve(req.ParentItem)
	if err != nil {
		return Page{}, err
	}

	a := &args{dialect: d}
	where, err := d.where(a, h, table, req.ParentItem, req.Filters)
	if err != nil {
		return Page{}, err
	}
	countArgs := append([]any(nil), a.values...)
	count := fmt.Sprintf("SELECT COUNT(*) FROM %s t%s", table.Name, where)

	order, err := orderBy(h, table, req.SortOrders)
	if err != nil {
		return Page{}, err
	}

	var sel strings.Builder
	sel.WriteString("SELECT ")
	for i, c := range table.Columns {
		if i > 0 {
			sel.WriteString(", ")
		}
		sel.WriteString("t." + c.Name)
	}
	if child != nil {
		fmt.Fprintf(&sel, ", (SELECT COUNT(*) FROM %s c WHERE c.%s = t.%s) AS %s",
			child.Name, child.ParentKey, table.Key, ChildCountColumn)
	}
	fmt.Fprintf(&sel, " FROM %s t%s ORDER BY %s", table.Name, where, order)
	fmt.Fprintf(&sel, " LIMIT %s OFFSET %s", a.bind(req.PageSize), a.bind(req.Page*req.PageSize))

	return Page{
		Table:  table,
		Child:  child,
		Select: Query{SQL: sel.String(), Args: a.values},
		Count:  Query{SQL: count, Args: countArgs},
	}, nil
}

// levelColumn reports whether path applies to table. A column known to
// another level of h is skipped at levels that lack it; one unknown to every
// level is an error.
func levelColumn(h Hierarchy, table Table, path string) (bool, error) {
	if _, ok := table.Column(path); ok {
		return true, nil
	}
	if h.HasColumn(path) {
		return false, nil
	}
	return false, fmt.Errorf("%w: '%s' in %s", ErrUnknownColumn, path, h.Name)
}

func (d Dialect) where(a *args, h Hierarchy, table Table, parent *models.Row, filters []sortfilter.Filter) (string, error) {
	var clauses []string
	if parent != nil && table.ParentKey != "" {
		clauses = append(clauses, fmt.Sprintf("t.%s = %s", table.ParentKey, a.bind(parent.ID)))
	}
	for _, f := range filters {
		ok, err := levelColumn(h, table, f.Path)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		pattern := "%" + escapeLike(strings.ToLower(f.Value)) + "%"
		clauses = append(clauses, fmt.Sprintf("LOWER(CAST(t.%s AS TEXT)) LIKE %s ESCAPE '\\'", f.Path, a.bind(pattern)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func orderBy(h Hierarchy, table Table, sorters []sortfilter.SortOrder) (string, error) {
	terms := make([]string, 0, len(sorters)+1)
	for _, o := range sorters {
		ok, err := levelColumn(h, table, o.Path)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		dir := "ASC"
		if o.Direction == sortfilter.Desc {
			dir = "DESC"
		}
		terms = append(terms, fmt.Sprintf("t.%s %s", o.Path, dir))
	}
	// Stable paging needs a total order.
	terms = append(terms, "t."+table.Key+" ASC")
	return strings.Join(terms, ", "), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Insert returns an upsert of row into t.
func (d Dialect) Insert(t Table, row models.Row) Query {
	a := &args{dialect: d}
	names := make([]string, 0, len(t.Columns))
	marks := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
		marks = append(marks, a.bind(d.storeValue(c, row.Field(c.Name))))
	}
	verb := "INSERT OR REPLACE INTO"
	suffix := ""
	if d == Postgres {
		verb = "INSERT INTO"
		updates := make([]string, 0, len(names))
		for _, n := range names {
			if n != t.Key {
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", n, n))
			}
		}
		suffix = fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", t.Key, strings.Join(updates, ", "))
	}
	return Query{
		SQL:  fmt.Sprintf("%s %s (%s) VALUES (%s)%s", verb, t.Name, strings.Join(names, ", "), strings.Join(marks, ", "), suffix),
		Args: a.values,
	}
}

func (d Dialect) storeValue(c Column, v any) any {
	switch c.Type {
	case Number:
		f, _ := toFloat(v)
		return f
	case Bool:
		b, _ := v.(bool)
		if d == SQLite {
			if b {
				return 1
			}
			return 0
		}
		return b
	case List:
		switch list := v.(type) {
		case []any:
			parts := make([]string, len(list))
			for i, p := range list {
				parts[i] = fmt.Sprint(p)
			}
			return strings.Join(parts, ",")
		case []string:
			return strings.Join(list, ",")
		}
		return ""
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
}

// Scan turns a scanned value list, ordered as Page.Columns, into a row.
func (p Page) Scan(values []any) (models.Row, error) {
	cols := p.Columns()
	if len(values) != len(cols) {
		return models.Row{}, fmt.Errorf("scan %s: got %d values for %d columns", p.Table.Name, len(values), len(cols))
	}
	row := models.Row{
		Kind:   p.Table.Kind,
		Fields: make(map[string]any, len(p.Table.Columns)),
	}
	for i, c := range p.Table.Columns {
		v, err := normalize(c, values[i])
		if err != nil {
			return models.Row{}, fmt.Errorf("scan %s.%s: %w", p.Table.Name, c.Name, err)
		}
		row.Fields[c.Name] = v
	}
	row.ID = fmt.Sprint(row.Fields[p.Table.Key])
	if p.Table.ParentKey != "" {
		if parent, ok := row.Fields[p.Table.ParentKey].(string); ok {
			row.ParentID = parent
		}
	}
	if p.Child != nil {
		n, ok := toFloat(values[len(values)-1])
		if !ok {
			return models.Row{}, fmt.Errorf("scan %s.%s: not a number", p.Table.Name, ChildCountColumn)
		}
		row.ChildCount = int(n)
	}
	return row, nil
}

func normalize(c Column, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case Number:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("not a number: %T", v)
		}
		return f, nil
	case Bool:
		switch b := v.(type) {
		case bool:
			return b, nil
		default:
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("not a bool: %T", v)
			}
			return f != 0, nil
		}
	case Time:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339), nil
		}
		return fmt.Sprint(v), nil
	case List:
		s := fmt.Sprint(v)
		if s == "" {
			return []any{}, nil
		}
		parts := strings.Split(s, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
