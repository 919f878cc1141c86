// Package markdown provides utilities for processing markdown tables in
// streamed reply text: detecting open tables mid-stream, repairing row
// adjacency after fragment joins, and converting tables for plain-text
// delivery.
package markdown

import (
	"regexp"
	"strings"
)

// TableMode specifies how to handle markdown tables in plain-text delivery.
type TableMode string

const (
	// TableModeOff leaves tables unchanged.
	TableModeOff TableMode = "off"
	// TableModeBullets converts each data row to a bullet line.
	TableModeBullets TableMode = "bullets"
	// TableModeCode wraps tables in code blocks.
	TableModeCode TableMode = "code"
)

// closedRowRegex matches a complete table row (|...|).
var closedRowRegex = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)

// separatorRegex matches the header separator row (|---|:--:|).
var separatorRegex = regexp.MustCompile(`^\s*\|[\s\-:|]+\|\s*$`)

// openRowRegex matches a line that starts a table row, closed or not.
var openRowRegex = regexp.MustCompile(`^\s*\|`)

// rowGapRegex matches a blank gap between two table rows, produced when
// streamed fragments are joined with inserted newlines.
var rowGapRegex = regexp.MustCompile(`(\|[ \t]*)\n{2,}([ \t]*\|)`)

// HasUnterminatedTable reports whether the streamed text ends inside a
// table-like block. While a table is still open, intermediate renders must be
// suppressed: partial table markup renders incorrectly, so the caller waits
// for the table to close or the reply to finalize.
func HasUnterminatedTable(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return false
	}
	lines := strings.Split(trimmed, "\n")
	last := lines[len(lines)-1]
	return openRowRegex.MatchString(last)
}

// CollapseRowGaps removes blank lines between adjacent table rows. Fragment
// joining inserts a newline between pieces; when both sides are table rows
// that produces a double break that splits the table. The contract is row
// adjacency: rows separated only by blank lines are rejoined with a single
// newline.
func CollapseRowGaps(text string) string {
	for rowGapRegex.MatchString(text) {
		text = rowGapRegex.ReplaceAllString(text, "$1\n$2")
	}
	return text
}

// ConvertTables rewrites markdown tables in the text according to the mode.
// A table is a header row, a separator row, and at least one data row on
// consecutive lines; anything short of that passes through untouched.
func ConvertTables(text string, mode TableMode) string {
	if mode == TableModeOff || mode == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	var out []string

	for i := 0; i < len(lines); {
		tbl, next := scanTable(lines, i)
		if tbl == nil {
			out = append(out, lines[i])
			i++
			continue
		}
		switch mode {
		case TableModeBullets:
			out = append(out, tbl.bullets()...)
		case TableModeCode:
			out = append(out, "```")
			out = append(out, lines[i:next]...)
			out = append(out, "```")
		default:
			out = append(out, lines[i:next]...)
		}
		i = next
	}

	return strings.Join(out, "\n")
}

// HasTables reports whether the text contains a complete markdown table.
func HasTables(text string) bool {
	lines := strings.Split(text, "\n")
	for i := range lines {
		if tbl, _ := scanTable(lines, i); tbl != nil {
			return true
		}
	}
	return false
}

type table struct {
	headers []string
	rows    [][]string
}

// scanTable tries to read a table starting at line i. It returns the parsed
// table and the index of the first line past it, or nil if the lines at i do
// not form a table.
func scanTable(lines []string, i int) (*table, int) {
	if !closedRowRegex.MatchString(lines[i]) {
		return nil, i
	}
	if i+1 >= len(lines) || !separatorRegex.MatchString(lines[i+1]) {
		return nil, i
	}

	tbl := &table{headers: splitCells(lines[i])}

	next := i + 2
	for next < len(lines) && closedRowRegex.MatchString(lines[next]) {
		row := splitCells(lines[next])
		for len(row) < len(tbl.headers) {
			row = append(row, "")
		}
		tbl.rows = append(tbl.rows, row)
		next++
	}

	if len(tbl.rows) == 0 {
		return nil, i
	}
	return tbl, next
}

func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")

	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

// bullets renders each data row as "• header: cell | header: cell", skipping
// empty cells.
func (t *table) bullets() []string {
	var out []string
	for _, row := range t.rows {
		var parts []string
		for i, cell := range row {
			if cell == "" {
				continue
			}
			if i < len(t.headers) && t.headers[i] != "" {
				parts = append(parts, t.headers[i]+": "+cell)
			} else {
				parts = append(parts, cell)
			}
		}
		if len(parts) > 0 {
			out = append(out, "• "+strings.Join(parts, " | "))
		}
	}
	return out
}
