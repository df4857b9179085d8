package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"ocdprep/table"
)

const missingPreview = "<NA>"

// ExportCleaned 写出清洗结果
func ExportCleaned(path string, t *table.Table) error {
	if err := table.WriteFile(path, t); err != nil {
		return fmt.Errorf("export cleaned: %w", err)
	}
	return nil
}

// ExportForDatabase 重新读取清洗结果，把日期列严格格式化为 YYYY-MM-DD 后写出
func ExportForDatabase(cleanedPath, outPath, dateColumn string, parser *DateParser) (*table.Table, error) {
	cleaned, err := table.ReadFile(cleanedPath, table.WithMissing(""))
	if err != nil {
		return nil, fmt.Errorf("reload cleaned: %w", err)
	}

	formatted, err := FormatDateColumn(cleaned, dateColumn, parser)
	if err != nil {
		return nil, err
	}
	if err := table.WriteFile(outPath, formatted); err != nil {
		return nil, fmt.Errorf("export database copy: %w", err)
	}
	return formatted, nil
}

// FormatDateColumn 日期列转为 YYYY-MM-DD 文本，无法解析的置为缺失
func FormatDateColumn(t *table.Table, dateColumn string, parser *DateParser) (*table.Table, error) {
	idx, err := t.Require(dateColumn)
	if err != nil {
		return nil, err
	}
	if parser == nil {
		parser = NewDateParser(0)
	}
	col := idx[0]

	out := t.Clone()
	out.Columns[col].Kind = table.Text
	for _, row := range out.Rows {
		cell := row[col]
		if !cell.Valid {
			continue
		}
		ts, ok := table.CellTime(cell)
		if !ok {
			ts, ok = parser.Parse(cell.String)
		}
		if !ok {
			row[col] = table.Missing()
			continue
		}
		row[col].String = ts.Format(table.DateLayout)
	}
	return out, nil
}

// WritePreview 打印前 n 行
func WritePreview(w io.Writer, t *table.Table, n int) error {
	head := t.Head(n)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, name := range head.ColumnNames() {
		fmt.Fprintf(tw, "\t%s", name)
	}
	fmt.Fprintln(tw)

	for i, row := range head.Rows {
		fmt.Fprint(tw, strconv.Itoa(i))
		for j, cell := range row {
			value := missingPreview
			if cell.Valid {
				value = cell.String
				if head.Columns[j].Kind == table.Date {
					if ts, ok := table.CellTime(cell); ok {
						value = table.FormatDate(ts)
					}
				}
			}
			fmt.Fprintf(tw, "\t%s", value)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
