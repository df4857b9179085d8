package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ocdprep/table"
)

// ============ 清洗步骤实现 ============

// NormalizeColumnsStep 列名规范化
type NormalizeColumnsStep struct{}

func NewNormalizeColumnsStep() *NormalizeColumnsStep {
	return &NormalizeColumnsStep{}
}

func (s *NormalizeColumnsStep) Name() string {
	return "normalize_columns"
}

func (s *NormalizeColumnsStep) Apply(t *table.Table) (*table.Table, StepReport, error) {
	names, err := table.NormalizeNames(t.ColumnNames())
	if err != nil {
		return nil, StepReport{}, err
	}

	out := t.Clone()
	var report StepReport
	for i, name := range names {
		if out.Columns[i].Name != name {
			report.Changed++
		}
		out.Columns[i].Name = name
	}
	return out, report, nil
}

// ParseDatesStep 日期列解析，无法解析的值置为缺失
type ParseDatesStep struct {
	Column  string
	parser  *DateParser
	missing map[string]struct{}
}

func NewParseDatesStep(column string, parser *DateParser, missingValues []string) *ParseDatesStep {
	if parser == nil {
		parser = NewDateParser(0)
	}
	return &ParseDatesStep{
		Column:  column,
		parser:  parser,
		missing: toSet(missingValues),
	}
}

func (s *ParseDatesStep) Name() string {
	return "parse_dates"
}

func (s *ParseDatesStep) Apply(t *table.Table) (*table.Table, StepReport, error) {
	idx, err := t.Require(s.Column)
	if err != nil {
		return nil, StepReport{}, err
	}
	col := idx[0]

	out := t.Clone()
	out.Columns[col].Kind = table.Date

	var report StepReport
	now := time.Now()
	for i, row := range out.Rows {
		cell := row[col]
		if !cell.Valid {
			continue
		}
		if ts, ok := s.parser.Parse(cell.String); ok {
			row[col] = table.DateCell(ts)
			continue
		}

		row[col] = table.Missing()
		report.Changed++
		// 缺失占位符本来就是缺失，不算质量问题
		if _, sentinel := s.missing[cell.String]; sentinel {
			continue
		}
		report.Issues = append(report.Issues, QualityIssue{
			Type:      "date_coerced",
			Severity:  "low",
			Message:   fmt.Sprintf("unparseable date %q set to missing", cell.String),
			Timestamp: now,
			Row:       i,
			Column:    s.Column,
			Value:     cell.String,
		})
	}
	return out, report, nil
}

// MissingValuesStep 缺失占位符统一为缺失
type MissingValuesStep struct {
	values map[string]struct{}
}

func NewMissingValuesStep(values []string) *MissingValuesStep {
	return &MissingValuesStep{values: toSet(values)}
}

func (s *MissingValuesStep) Name() string {
	return "missing_values"
}

func (s *MissingValuesStep) Apply(t *table.Table) (*table.Table, StepReport, error) {
	out := t.Clone()
	var report StepReport
	for _, row := range out.Rows {
		for j, cell := range row {
			if !cell.Valid {
				continue
			}
			if _, ok := s.values[cell.String]; ok {
				row[j] = table.Missing()
				report.Changed++
			}
		}
	}
	return out, report, nil
}

// BinaryCanonicalStep 二值列大小写规范化（首字母大写，其余小写）
type BinaryCanonicalStep struct {
	Columns []string
}

func NewBinaryCanonicalStep(columns []string) *BinaryCanonicalStep {
	return &BinaryCanonicalStep{Columns: columns}
}

func (s *BinaryCanonicalStep) Name() string {
	return "binary_canonical"
}

func (s *BinaryCanonicalStep) Apply(t *table.Table) (*table.Table, StepReport, error) {
	indexes, err := t.Require(s.Columns...)
	if err != nil {
		return nil, StepReport{}, err
	}

	out := t.Clone()
	capitalize := newCapitalizer()
	var report StepReport
	for _, row := range out.Rows {
		for _, col := range indexes {
			cell := row[col]
			if !cell.Valid {
				continue
			}
			canonical := capitalize(cell.String)
			if canonical != cell.String {
				row[col].String = canonical
				report.Changed++
			}
		}
	}
	return out, report, nil
}

// Capitalize 首字母大写，其余小写
func Capitalize(value string) string {
	return newCapitalizer()(value)
}

// newCapitalizer cases.Caser 有状态，不能跨 goroutine 共享
func newCapitalizer() func(string) string {
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und)
	return func(value string) string {
		r, size := utf8.DecodeRuneInString(value)
		if size == 0 {
			return value
		}
		return upper.String(string(r)) + lower.String(value[size:])
	}
}

// DropDuplicatesStep 删除完全重复的行，保留第一次出现
type DropDuplicatesStep struct{}

func NewDropDuplicatesStep() *DropDuplicatesStep {
	return &DropDuplicatesStep{}
}

func (s *DropDuplicatesStep) Name() string {
	return "drop_duplicates"
}

func (s *DropDuplicatesStep) Apply(t *table.Table) (*table.Table, StepReport, error) {
	seen := make(map[string]struct{}, t.Len())
	rows := make([]table.Row, 0, t.Len())
	var report StepReport
	for _, row := range t.Rows {
		key := rowKey(row)
		if _, exists := seen[key]; exists {
			report.Changed++
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, append(table.Row(nil), row...))
	}

	columns := append([]table.Column(nil), t.Columns...)
	return table.New(columns, rows), report, nil
}

// rowKey 缺失与空串区分编码
func rowKey(row table.Row) string {
	var b strings.Builder
	for _, cell := range row {
		if !cell.Valid {
			b.WriteString("N;")
			continue
		}
		b.WriteString("V")
		b.WriteString(strconv.Itoa(len(cell.String)))
		b.WriteByte(':')
		b.WriteString(cell.String)
		b.WriteByte(';')
	}
	return b.String()
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
