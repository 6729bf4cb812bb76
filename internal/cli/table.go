// Package cli provides table helpers for human-readable output.
package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

const (
	tableGap = "  "
	ellipsis = "…"
)

// table prints rows as columns aligned by display width. Escape sequences
// take no width and wide runes take two cells.
type table struct {
	headers []string
	rows    [][]string
	right   map[int]bool

	// maxCell truncates plain cells wider than this. Zero keeps them whole.
	maxCell int
}

func newTable(headers ...string) *table {
	return &table{headers: headers, right: make(map[int]bool)}
}

// alignRight right-aligns the given columns, for counts and sizes.
func (t *table) alignRight(cols ...int) *table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

func (t *table) limitCells(width int) *table {
	t.maxCell = width
	return t
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) cell(value string) string {
	if t.maxCell <= 0 || strings.ContainsRune(value, '\x1b') {
		return value
	}
	return runewidth.Truncate(value, t.maxCell, ellipsis)
}

func (t *table) render(out io.Writer) error {
	cols := len(t.headers)
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}

	lines := make([][]string, 0, len(t.rows)+1)
	if len(t.headers) > 0 {
		lines = append(lines, t.headers)
	}
	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = t.cell(v)
		}
		lines = append(lines, cells)
	}

	widths := make([]int, cols)
	for _, line := range lines {
		for i, v := range line {
			widths[i] = max(widths[i], ansi.StringWidth(v))
		}
	}

	w := bufio.NewWriter(out)
	for _, line := range lines {
		var b strings.Builder
		for i := 0; i < cols; i++ {
			v := ""
			if i < len(line) {
				v = line[i]
			}
			pad := strings.Repeat(" ", widths[i]-ansi.StringWidth(v))
			if i > 0 {
				b.WriteString(tableGap)
			}
			switch {
			case t.right[i]:
				b.WriteString(pad + v)
			case i < cols-1:
				b.WriteString(v + pad)
			default:
				b.WriteString(v)
			}
		}
		b.WriteByte('\n')
		if _, err := w.WriteString(b.String()); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	t := newTable(headers...)
	t.rows = rows
	return t.render(out)
}
