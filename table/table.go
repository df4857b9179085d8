package table

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v3"
)

var (
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrMissingColumn   = errors.New("missing column")
	ErrRaggedRow       = errors.New("row has more fields than header")
)

// DateTimeLayout is how parsed date cells are held in memory.
const DateTimeLayout = "2006-01-02 15:04:05"

// DateLayout is the strict ISO date rendering.
const DateLayout = "2006-01-02"

type ColumnKind int

const (
	Text ColumnKind = iota
	Date
)

func (k ColumnKind) String() string {
	switch k {
	case Date:
		return "date"
	default:
		return "text"
	}
}

type Column struct {
	Name string
	Kind ColumnKind
}

// Row holds one cell per column. An invalid cell is a missing value.
type Row []null.String

// Table is an in-memory record table. Transformations return new tables
// and leave their input untouched.
type Table struct {
	Columns []Column
	Rows    []Row
}

func New(columns []Column, rows []Row) *Table {
	return &Table{Columns: columns, Rows: rows}
}

// FromStrings builds a text table where every cell is present.
func FromStrings(header []string, records [][]string) *Table {
	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = Column{Name: name}
	}
	rows := make([]Row, len(records))
	for i, record := range records {
		row := make(Row, len(header))
		for j := range row {
			if j < len(record) {
				row[j] = null.StringFrom(record[j])
			}
		}
		rows[i] = row
	}
	return New(columns, rows)
}

func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) Width() int {
	return len(t.Columns)
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// Require resolves every name to its column index.
func (t *Table) Require(names ...string) ([]int, error) {
	indexes := make([]int, len(names))
	for i, name := range names {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		indexes[i] = idx
	}
	return indexes, nil
}

// Column returns a copy of the cells of column idx.
func (t *Table) Column(idx int) []null.String {
	cells := make([]null.String, len(t.Rows))
	for i, row := range t.Rows {
		cells[i] = row[idx]
	}
	return cells
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	columns := make([]Column, len(t.Columns))
	copy(columns, t.Columns)
	rows := make([]Row, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = append(Row(nil), row...)
	}
	return New(columns, rows)
}

// Head returns a copy of the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	head := &Table{Columns: t.Columns, Rows: t.Rows[:n]}
	return head.Clone()
}

// Value returns the textual value of a cell, empty for missing.
func (t *Table) Value(row, col int) string {
	cell := t.Rows[row][col]
	if !cell.Valid {
		return ""
	}
	return cell.String
}

// Missing reports a missing cell.
func Missing() null.String {
	return null.String{}
}

// DateCell stores a parsed time in a date column.
func DateCell(ts time.Time) null.String {
	return null.StringFrom(ts.Format(DateTimeLayout))
}

// CellTime parses a cell written by DateCell.
func CellTime(cell null.String) (time.Time, bool) {
	if !cell.Valid {
		return time.Time{}, false
	}
	ts, err := time.Parse(DateTimeLayout, cell.String)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// FormatDate renders a date the way the cleaned export expects:
// date only at midnight, date and time otherwise.
func FormatDate(ts time.Time) string {
	if ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0 && ts.Nanosecond() == 0 {
		return ts.Format(DateLayout)
	}
	return ts.Format(DateTimeLayout)
}
