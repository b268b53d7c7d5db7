// Package formatter renders run and event data for the CLI in table,
// JSON, and markdown form.
package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table collects columnar rows and renders them aligned, with a dashed
// separator under the header. A table with no rows renders nothing.
type Table struct {
	out      io.Writer
	headers  []string
	rows     [][]string
	maxWidth map[int]int
}

// NewTable creates a table that writes to w with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		out:      w,
		headers:  headers,
		maxWidth: make(map[int]int),
	}
}

// SetMaxWidth caps the display width of one column (0-indexed). Cell
// values over the cap are truncated with "...".
func (t *Table) SetMaxWidth(col, width int) *Table {
	t.maxWidth[col] = width
	return t
}

// AddRow appends a data row. Extra values beyond the header count are
// dropped; missing values render as empty cells.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = t.clip(i, values[i])
		}
	}
	t.rows = append(t.rows, row)
}

// Render writes the accumulated rows. Call it once, after the last AddRow.
func (t *Table) Render() error {
	if len(t.rows) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, strings.Join(t.headers, "\t")); err != nil {
		return err
	}
	separators := make([]string, len(t.headers))
	for i, h := range t.headers {
		separators[i] = strings.Repeat("-", len(h))
	}
	if _, err := fmt.Fprintln(w, strings.Join(separators, "\t")); err != nil {
		return err
	}
	for _, row := range t.rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (t *Table) clip(col int, s string) string {
	max, ok := t.maxWidth[col]
	if !ok || max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
