package pipeline

import (
	"errors"
	"testing"
	"time"

	"gopkg.in/guregu/null.v3"

	"ocdprep/config"
	"ocdprep/table"
)

func defaultOptions() CleanerOptions {
	cfg := config.Default()
	return CleanerOptions{
		DateColumn:    cfg.Cleaning.DateColumn,
		BinaryColumns: cfg.Cleaning.BinaryColumns,
		MissingValues: cfg.Cleaning.MissingValues,
		DateCacheSize: 16,
	}
}

func rawTable(records ...[]string) *table.Table {
	header := []string{"Patient ID", "OCD Diagnosis Date", "Family History of OCD", "Depression Diagnosis", "Anxiety Diagnosis", "Medications"}
	return table.FromStrings(header, records)
}

func TestNewDataCleaner(t *testing.T) {
	cleaner := NewDataCleaner(defaultOptions(), nil)
	if cleaner == nil {
		t.Fatal("NewDataCleaner returned nil")
	}

	want := []string{"normalize_columns", "parse_dates", "missing_values", "binary_canonical", "drop_duplicates"}
	got := cleaner.Steps()
	if len(got) != len(want) {
		t.Fatalf("expected %d steps, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDataCleaner_EndToEndRow(t *testing.T) {
	cleaner := NewDataCleaner(defaultOptions(), nil)
	raw := rawTable([]string{"1", "03/15/2020", "YES", "no", "Yes", "SSRI"})

	cleaned, issues, err := cleaner.Clean(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}

	idx, err := cleaned.Require("ocd_diagnosis_date", "family_history_of_ocd", "depression_diagnosis")
	if err != nil {
		t.Fatalf("normalized columns missing: %v", err)
	}
	ts, ok := table.CellTime(cleaned.Rows[0][idx[0]])
	if !ok {
		t.Fatalf("date was not parsed: %+v", cleaned.Rows[0][idx[0]])
	}
	if !ts.Equal(time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v, want 2020-03-15", ts)
	}
	if got := cleaned.Value(0, idx[1]); got != "Yes" {
		t.Errorf("family_history_of_ocd = %q, want Yes", got)
	}
	if got := cleaned.Value(0, idx[2]); got != "No" {
		t.Errorf("depression_diagnosis = %q, want No", got)
	}
	if raw.Columns[0].Name != "Patient ID" {
		t.Error("cleaning mutated the input table")
	}
}

func TestDataCleaner_Duplicates(t *testing.T) {
	cleaner := NewDataCleaner(defaultOptions(), nil)
	row := []string{"7", "2021-06-01", "No", "Yes", "No", "None"}
	raw := rawTable(row, row, []string{"8", "2021-06-01", "No", "Yes", "No", "SNRI"})

	cleaned, _, err := cleaner.Clean(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleaned.Len() != 2 {
		t.Fatalf("expected 2 rows after de-duplication, got %d", cleaned.Len())
	}

	stats := cleaner.GetStats()
	if stats.Changes["drop_duplicates"] != 1 {
		t.Errorf("expected 1 dropped duplicate, got %d", stats.Changes["drop_duplicates"])
	}
	if stats.RowsIn != 3 || stats.RowsOut != 2 {
		t.Errorf("unexpected row stats: %+v", stats)
	}
}

func TestDataCleaner_CaseVariantsCollapseToDuplicates(t *testing.T) {
	cleaner := NewDataCleaner(defaultOptions(), nil)
	raw := rawTable(
		[]string{"1", "2020-01-01", "yes", "NO", "no", "SSRI"},
		[]string{"1", "2020-01-01", "YES", "no", "No", "SSRI"},
	)

	cleaned, _, err := cleaner.Clean(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleaned.Len() != 1 {
		t.Fatalf("rows equal after canonicalization should collapse, got %d", cleaned.Len())
	}
}

func TestDataCleaner_InvalidDate(t *testing.T) {
	cleaner := NewDataCleaner(defaultOptions(), nil)
	raw := rawTable(
		[]string{"1", "not-a-date", "Yes", "No", "No", "SSRI"},
		[]string{"2", "N/A", "Yes", "No", "No", "SSRI"},
	)

	cleaned, issues, err := cleaner.Clean(raw)
	if err != nil {
		t.Fatalf("invalid date must not be fatal: %v", err)
	}
	col := cleaned.ColumnIndex("ocd_diagnosis_date")
	for i := range cleaned.Rows {
		if cleaned.Rows[i][col].Valid {
			t.Errorf("row %d: expected missing date, got %q", i, cleaned.Rows[i][col].String)
		}
	}
	if len(issues) != 1 || issues[0].Type != "date_coerced" || issues[0].Value != "not-a-date" {
		t.Errorf("expected one date_coerced issue for not-a-date, got %+v", issues)
	}
	if got := cleaner.GetIssues(0); len(got) != 1 {
		t.Errorf("expected issue to be retained, got %d", len(got))
	}
	cleaner.ClearIssues()
	if got := cleaner.GetIssues(0); len(got) != 0 {
		t.Errorf("expected no issues after clear, got %d", len(got))
	}
}

func TestDataCleaner_MissingColumn(t *testing.T) {
	cleaner := NewDataCleaner(defaultOptions(), nil)
	raw := table.FromStrings([]string{"Patient ID", "Medications"}, [][]string{{"1", "SSRI"}})

	_, _, err := cleaner.Clean(raw)
	if !errors.Is(err, table.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestMissingValuesStep(t *testing.T) {
	step := NewMissingValuesStep(config.DefaultMissingValues)
	sentinels := []string{"None", "none", "N/A", "n/a", "", " "}

	for _, sentinel := range sentinels {
		t.Run("sentinel "+sentinel, func(t *testing.T) {
			src := table.FromStrings([]string{"a", "b"}, [][]string{{sentinel, "kept"}})
			out, report, err := step.Apply(src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Rows[0][0].Valid {
				t.Errorf("sentinel %q should become missing", sentinel)
			}
			if out.Value(0, 1) != "kept" {
				t.Errorf("non-sentinel value changed: %q", out.Value(0, 1))
			}
			if report.Changed != 1 {
				t.Errorf("changed = %d, want 1", report.Changed)
			}
			if !src.Rows[0][0].Valid {
				t.Error("input table was mutated")
			}
		})
	}

	t.Run("near misses are kept", func(t *testing.T) {
		src := table.FromStrings([]string{"a", "b", "c"}, [][]string{{"NONE", "  ", "n/a "}})
		out, _, _ := step.Apply(src)
		for j := range out.Columns {
			if !out.Rows[0][j].Valid {
				t.Errorf("column %d: %q should not be treated as missing", j, src.Value(0, j))
			}
		}
	})
}

func TestBinaryCanonicalStep(t *testing.T) {
	step := NewBinaryCanonicalStep([]string{"flag"})

	tests := []struct {
		in   string
		want string
	}{
		{"yes", "Yes"},
		{"YES", "Yes"},
		{"Yes", "Yes"},
		{"yEs", "Yes"},
		{"no", "No"},
		{"NO", "No"},
		{"ünknown", "Ünknown"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			src := table.FromStrings([]string{"flag"}, [][]string{{tt.in}})
			out, _, err := step.Apply(src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := out.Value(0, 0); got != tt.want {
				t.Errorf("canonical(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("missing passes through", func(t *testing.T) {
		src := table.New([]table.Column{{Name: "flag"}}, []table.Row{{table.Missing()}})
		out, report, err := step.Apply(src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Rows[0][0].Valid || report.Changed != 0 {
			t.Errorf("missing value should pass through unchanged")
		}
	})
}

func TestDropDuplicatesStepIdempotent(t *testing.T) {
	step := NewDropDuplicatesStep()
	src := table.New(
		[]table.Column{{Name: "a"}, {Name: "b"}},
		[]table.Row{
			{null.StringFrom("1"), null.StringFrom("x")},
			{null.StringFrom("1"), null.StringFrom("x")},
			{null.StringFrom("1"), table.Missing()},
			{null.StringFrom("1"), table.Missing()},
			{null.StringFrom("1"), null.StringFrom("")},
		},
	)

	once, report, err := step.Apply(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once.Len() != 3 || report.Changed != 2 {
		t.Fatalf("expected 3 rows and 2 dropped, got %d rows and %d dropped", once.Len(), report.Changed)
	}
	if !once.Rows[2][1].Valid {
		t.Error("empty string and missing must not be merged")
	}

	twice, report, err := step.Apply(once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if twice.Len() != once.Len() || report.Changed != 0 {
		t.Fatalf("second de-duplication changed the table: %d -> %d", once.Len(), twice.Len())
	}
}

func TestNormalizeColumnsStep(t *testing.T) {
	step := NewNormalizeColumnsStep()
	src := table.FromStrings([]string{"Patient ID", "age"}, nil)

	out, report, err := step.Apply(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Columns[0].Name != "patient_id" || report.Changed != 1 {
		t.Errorf("unexpected result: %v changed=%d", out.ColumnNames(), report.Changed)
	}

	again, report, _ := step.Apply(out)
	if report.Changed != 0 || again.Columns[0].Name != "patient_id" {
		t.Error("normalizing normalized columns should change nothing")
	}
}

func TestCapitalize(t *testing.T) {
	if got := Capitalize(""); got != "" {
		t.Errorf("Capitalize(\"\") = %q", got)
	}
	if got := Capitalize(" yes"); got != " yes" {
		t.Errorf("leading space should be kept, got %q", got)
	}
}

func BenchmarkDataCleaner_Clean(b *testing.B) {
	cleaner := NewDataCleaner(defaultOptions(), nil)

	records := make([][]string, 1000)
	for i := range records {
		records[i] = []string{"1", "2020-03-15", "yes", "NO", "No", "SSRI"}
	}
	raw := rawTable(records...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := cleaner.Clean(raw); err != nil {
			b.Fatal(err)
		}
	}
}
