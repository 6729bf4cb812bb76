package gridview

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/lablup/backend.ai-sub009/internal/models"
)

type cellFormat int

const (
	formatText cellFormat = iota
	formatBytes
	formatPercent
	formatList
)

// column is one displayed field of a row kind.
type column struct {
	Title  string
	Path   string
	Width  int
	Format cellFormat
}

var layouts = map[models.RowKind][]column{
	models.RowKindResourceGroup: {
		{Title: "NAME", Path: "name", Width: 18},
		{Title: "SCHEDULER", Path: "scheduler", Width: 10},
		{Title: "ACTIVE", Path: "is_active", Width: 7},
		{Title: "AGENTS", Path: "agent_count", Width: 7},
		{Title: "DESCRIPTION", Path: "description", Width: 30},
	},
	models.RowKindAgent: {
		{Title: "ID", Path: "id", Width: 14},
		{Title: "STATUS", Path: "status", Width: 11},
		{Title: "REGION", Path: "region", Width: 14},
		{Title: "GROUP", Path: "scaling_group", Width: 10},
		{Title: "CPU", Path: "cpu_slots", Width: 5},
		{Title: "MEM", Path: "mem_slots", Width: 9, Format: formatBytes},
		{Title: "SESS", Path: "session_count", Width: 5},
		{Title: "ADDR", Path: "addr", Width: 21},
	},
	models.RowKindSession: {
		{Title: "NAME", Path: "name", Width: 18},
		{Title: "STATUS", Path: "status", Width: 11},
		{Title: "OWNER", Path: "owner", Width: 12},
		{Title: "TYPE", Path: "type", Width: 12},
		{Title: "CPU", Path: "cpu_used", Width: 5},
		{Title: "MEM", Path: "mem_used", Width: 9, Format: formatBytes},
		{Title: "IMAGE", Path: "image", Width: 28},
	},
	models.RowKindVolume: {
		{Title: "ID", Path: "id", Width: 16},
		{Title: "PROXY", Path: "proxy", Width: 12},
		{Title: "BACKEND", Path: "backend", Width: 10},
		{Title: "USED", Path: "used", Width: 9, Format: formatBytes},
		{Title: "CAPACITY", Path: "capacity", Width: 9, Format: formatBytes},
		{Title: "USAGE", Path: "usage", Width: 6, Format: formatPercent},
		{Title: "CAPS", Path: "capabilities", Width: 24, Format: formatList},
	},
}

var rootKinds = map[string]models.RowKind{
	"agents":          models.RowKindAgent,
	"resource_groups": models.RowKindResourceGroup,
	"volumes":         models.RowKindVolume,
}

func layoutFor(kind models.RowKind) []column {
	return layouts[kind]
}

// cellText renders one field of row for display.
func cellText(row models.Row, c column) string {
	v := row.Field(c.Path)
	switch c.Format {
	case formatBytes:
		if n, ok := v.(float64); ok {
			return humanize.IBytes(uint64(n))
		}
	case formatPercent:
		if n, ok := v.(float64); ok {
			return fmt.Sprintf("%.0f%%", n*100)
		}
	case formatList:
		if items, ok := v.([]any); ok {
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = fmt.Sprint(item)
			}
			return strings.Join(parts, ",")
		}
	}
	if b, ok := v.(bool); ok {
		if b {
			return "yes"
		}
		return "no"
	}
	return row.String(c.Path)
}

// fit truncates or pads s to exactly width terminal cells.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

// Columns returns the field paths shown for the root rows of hierarchy.
func Columns(hierarchy string) []string {
	kind, ok := rootKinds[hierarchy]
	if !ok {
		return nil
	}
	layout := layoutFor(kind)
	paths := make([]string, len(layout))
	for i, c := range layout {
		paths[i] = c.Path
	}
	return paths
}

// CellText renders the field at path of row the way the browser shows it.
func CellText(row models.Row, path string) string {
	for _, c := range layoutFor(row.Kind) {
		if c.Path == path {
			return cellText(row, c)
		}
	}
	return cellText(row, column{Path: path})
}
