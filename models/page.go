package models

import "strings"

// Category is one selectable data series in the source page's form control.
type Category struct {
	Name  string `json:"name" yaml:"name"`
	Index int    `json:"index" yaml:"index"`
}

// Table holds one page of a category's data, or the concatenation of all
// of its pages. Cells are kept as rendered text.
type Table struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no data rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Concat joins tables row-wise in order, taking headers from the first one.
// Returns nil when no table carries data.
func Concat(tables []*Table) *Table {
	var out *Table
	for _, t := range tables {
		if t.Empty() {
			continue
		}
		if out == nil {
			out = &Table{Headers: append([]string(nil), t.Headers...)}
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// ToPlainText renders the table as tab-separated lines.
func (t *Table) ToPlainText() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(t.Headers, "\t"))
	sb.WriteString("\n")
	for _, row := range t.Rows {
		sb.WriteString(strings.Join(row, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}
