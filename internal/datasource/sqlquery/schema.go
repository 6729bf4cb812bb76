// Package sqlquery builds paged grid queries for SQL page providers. Column
// names come from a fixed whitelist per table; only values are bound.
package sqlquery

import (
	"fmt"
	"strings"

	"github.com/lablup/backend.ai-sub009/internal/models"
)

// ColumnType controls how a column is declared and how scanned values are
// normalized into row fields.
type ColumnType int

const (
	Text ColumnType = iota
	Number
	Bool
	Time
	List
)

// Column is a whitelisted table column. Its name doubles as the row field path.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes one level of a grid hierarchy.
type Table struct {
	Name string
	Kind models.RowKind

	// Key is the column holding the row ID.
	Key string

	// ParentKey references the Key of the previous level, if any.
	ParentKey string

	Columns []Column
}

// Column looks up a whitelisted column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Hierarchy is a chain of tables where each level's rows are children of the
// previous level's rows.
type Hierarchy struct {
	Name   string
	Levels []Table
}

// HasColumn reports whether any level has a column called name.
func (h Hierarchy) HasColumn(name string) bool {
	for _, t := range h.Levels {
		if _, ok := t.Column(name); ok {
			return true
		}
	}
	return false
}

// Resolve returns the table serving children of parent (the root table for
// nil) and the table one level below it, if any.
func (h Hierarchy) Resolve(parent *models.Row) (Table, *Table, error) {
	if len(h.Levels) == 0 {
		return Table{}, nil, fmt.Errorf("hierarchy '%s' has no tables", h.Name)
	}
	level := 0
	if parent != nil {
		level = -1
		for i, t := range h.Levels {
			if t.Kind == parent.Kind {
				level = i + 1
				break
			}
		}
		if level < 0 || level >= len(h.Levels) {
			return Table{}, nil, fmt.Errorf("%w: %s rows have no children in '%s'", ErrNoChildLevel, parent.Kind, h.Name)
		}
	}
	table := h.Levels[level]
	if level+1 < len(h.Levels) {
		next := h.Levels[level+1]
		return table, &next, nil
	}
	return table, nil, nil
}

var (
	AgentsTable = Table{
		Name:      "agents",
		Kind:      models.RowKindAgent,
		Key:       "id",
		ParentKey: "scaling_group",
		Columns: []Column{
			{Name: "id", Type: Text},
			{Name: "region", Type: Text},
			{Name: "scaling_group", Type: Text},
			{Name: "status", Type: Text},
			{Name: "addr", Type: Text},
			{Name: "architecture", Type: Text},
			{Name: "cpu_slots", Type: Number},
			{Name: "mem_slots", Type: Number},
			{Name: "cpu_used", Type: Number},
			{Name: "mem_used", Type: Number},
			{Name: "schedulable", Type: Bool},
			{Name: "session_count", Type: Number},
			{Name: "first_contact", Type: Time},
			{Name: "last_heartbeat", Type: Time},
		},
	}

	SessionsTable = Table{
		Name:      "sessions",
		Kind:      models.RowKindSession,
		Key:       "id",
		ParentKey: "agent_id",
		Columns: []Column{
			{Name: "id", Type: Text},
			{Name: "agent_id", Type: Text},
			{Name: "name", Type: Text},
			{Name: "owner", Type: Text},
			{Name: "image", Type: Text},
			{Name: "type", Type: Text},
			{Name: "status", Type: Text},
			{Name: "cpu_used", Type: Number},
			{Name: "mem_used", Type: Number},
			{Name: "created_at", Type: Time},
		},
	}

	VolumesTable = Table{
		Name: "volumes",
		Kind: models.RowKindVolume,
		Key:  "id",
		Columns: []Column{
			{Name: "id", Type: Text},
			{Name: "proxy", Type: Text},
			{Name: "backend", Type: Text},
			{Name: "capabilities", Type: List},
			{Name: "capacity", Type: Number},
			{Name: "used", Type: Number},
			{Name: "usage", Type: Number},
		},
	}

	ResourceGroupsTable = Table{
		Name: "resource_groups",
		Kind: models.RowKindResourceGroup,
		Key:  "name",
		Columns: []Column{
			{Name: "name", Type: Text},
			{Name: "description", Type: Text},
			{Name: "is_active", Type: Bool},
			{Name: "scheduler", Type: Text},
			{Name: "agent_count", Type: Number},
		},
	}
)

// Tables lists every table in creation order.
var Tables = []Table{ResourceGroupsTable, AgentsTable, SessionsTable, VolumesTable}

var hierarchies = map[string]Hierarchy{
	"agents":          {Name: "agents", Levels: []Table{AgentsTable, SessionsTable}},
	"resource_groups": {Name: "resource_groups", Levels: []Table{ResourceGroupsTable, AgentsTable, SessionsTable}},
	"volumes":         {Name: "volumes", Levels: []Table{VolumesTable}},
}

// LookupHierarchy returns a named hierarchy.
func LookupHierarchy(name string) (Hierarchy, error) {
	h, ok := hierarchies[name]
	if !ok {
		return Hierarchy{}, fmt.Errorf("%w: '%s'", ErrUnknownHierarchy, name)
	}
	return h, nil
}

// HierarchyNames returns the names accepted by LookupHierarchy.
func HierarchyNames() []string {
	return []string{"agents", "resource_groups", "volumes"}
}

// CreateTable returns the DDL for t.
func (d Dialect) CreateTable(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "\t%s %s", c.Name, d.columnType(c.Type))
		if c.Name == t.Key {
			b.WriteString(" PRIMARY KEY")
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// CreateIndexes returns index DDL for the parent key of t, if any.
func (d Dialect) CreateIndexes(t Table) []string {
	if t.ParentKey == "" {
		return nil
	}
	return []string{fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", t.Name, t.ParentKey, t.Name, t.ParentKey)}
}

func (d Dialect) columnType(ct ColumnType) string {
	switch ct {
	case Number:
		if d == Postgres {
			return "DOUBLE PRECISION NOT NULL DEFAULT 0"
		}
		return "REAL NOT NULL DEFAULT 0"
	case Bool:
		if d == Postgres {
			return "BOOLEAN NOT NULL DEFAULT FALSE"
		}
		return "INTEGER NOT NULL DEFAULT 0"
	default:
		return "TEXT NOT NULL DEFAULT ''"
	}
}
