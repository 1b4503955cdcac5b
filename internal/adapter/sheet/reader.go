package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// Table is the active sheet of a workbook with cells already cleaned.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// CleanCell applies NFKC normalisation, trims surrounding space and drops
// control characters other than newline and tab.
func CleanCell(s string) string {
	s = strings.TrimSpace(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// ReadTable loads the active sheet of the workbook at path. The first row
// is the header.
func ReadTable(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
	}
	defer rows.Close()

	t := &Table{index: make(map[string]int)}
	first := true
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read row of %s: %w", path, err)
		}
		for i := range cols {
			cols[i] = CleanCell(cols[i])
		}
		if first {
			first = false
			t.Header = cols
			for i, name := range cols {
				if _, dup := t.index[name]; !dup && name != "" {
					t.index[name] = i
				}
			}
			continue
		}
		t.Rows = append(t.Rows, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("iterate rows of %s: %w", path, err)
	}
	if first {
		return nil, fmt.Errorf("workbook %s has no header row", path)
	}
	return t, nil
}

// Has reports whether the header contains column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Get returns the cell of row under column, or "" when either is missing.
// Trailing empty cells are not stored by excelize, so short rows are normal.
func (t *Table) Get(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// At returns the cell at a fixed position, or "".
func (t *Table) At(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Int parses a numeric cell. Values such as "4.0" are accepted.
func Int(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
