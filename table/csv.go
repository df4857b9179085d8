package table

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/guregu/null.v3"
)

const bufSize = 1 << 20

type readOptions struct {
	missing map[string]struct{}
}

type ReadOption func(*readOptions)

// WithMissing marks cells whose raw text is one of values as missing while reading.
func WithMissing(values ...string) ReadOption {
	return func(o *readOptions) {
		for _, v := range values {
			o.missing[v] = struct{}{}
		}
	}
}

// ReadCSV loads a delimited file with a header row. A leading byte order
// mark is dropped. Short rows are padded with missing cells.
func ReadCSV(r io.Reader, opts ...ReadOption) (*Table, error) {
	options := readOptions{missing: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&options)
	}

	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(bufio.NewReaderSize(decoded, bufSize))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = Column{Name: name}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(record) > len(columns) {
			return nil, fmt.Errorf("row %d: %w (%d > %d)", line, ErrRaggedRow, len(record), len(columns))
		}
		row := make(Row, len(columns))
		for j, raw := range record {
			if _, ok := options.missing[raw]; ok {
				continue
			}
			row[j] = null.StringFrom(raw)
		}
		rows = append(rows, row)
	}
	return New(columns, rows), nil
}

func ReadFile(path string, opts ...ReadOption) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, opts...)
}

// WriteCSV writes the header and rows. Missing cells are written as empty
// fields and date columns through FormatDate.
func WriteCSV(w io.Writer, t *Table) error {
	bw := bufio.NewWriterSize(w, bufSize)
	writer := csv.NewWriter(bw)

	if err := writer.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, cell := range row {
			record[j] = renderCell(t.Columns[j], cell)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return bw.Flush()
}

func WriteFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderCell(col Column, cell null.String) string {
	if !cell.Valid {
		return ""
	}
	if col.Kind == Date {
		if ts, ok := CellTime(cell); ok {
			return FormatDate(ts)
		}
	}
	return cell.String
}
