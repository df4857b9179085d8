package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ocdprep/config"
	"ocdprep/table"
)

const rawCSV = `Patient ID,Age,OCD Diagnosis Date,Family History of OCD,Depression Diagnosis,Anxiety Diagnosis,Medications
1001,32,03/15/2020,YES,no,Yes,SSRI
1002,45,not-a-date,no,YES,none,None
1001,32,03/15/2020,YES,no,Yes,SSRI
1003,28,2019-11-02 14:30:00,No,No,N/A,Benzodiazepine
`

type memoryStorage struct {
	runID    string
	patients *table.Table
	issues   []QualityIssue
}

func (m *memoryStorage) SavePatients(_ context.Context, runID string, t *table.Table) error {
	m.runID = runID
	m.patients = t
	return nil
}

func (m *memoryStorage) SaveQualityIssues(_ context.Context, runID string, issues []QualityIssue) error {
	m.issues = issues
	return nil
}

func testConfig(t *testing.T, raw string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	if err := os.WriteFile(input, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Input.Path = input
	cfg.Output.CleanedPath = filepath.Join(dir, "out", "Cleaned_OCD_Patient_Data.csv")
	cfg.Output.DatabasePath = filepath.Join(dir, "out", "Cleaned_OCD_Patient_Data_for_MySQL.csv")
	return cfg
}

func TestRunnerEndToEnd(t *testing.T) {
	cfg := testConfig(t, rawCSV)
	storage := &memoryStorage{}
	var preview bytes.Buffer

	result, err := NewRunner(cfg, storage, nil, &preview).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Cleaned.Len() != 3 {
		t.Fatalf("expected duplicate row to be dropped, got %d rows", result.Cleaned.Len())
	}
	if len(result.Issues) != 1 {
		t.Errorf("expected 1 quality issue, got %d", len(result.Issues))
	}
	if !strings.Contains(preview.String(), "family_history_of_ocd") || !strings.Contains(preview.String(), "<NA>") {
		t.Errorf("preview missing header or missing marker:\n%s", preview.String())
	}

	cleaned, err := os.ReadFile(cfg.Output.CleanedPath)
	if err != nil {
		t.Fatalf("read cleaned: %v", err)
	}
	wantCleaned := `patient_id,age,ocd_diagnosis_date,family_history_of_ocd,depression_diagnosis,anxiety_diagnosis,medications
1001,32,2020-03-15,Yes,No,Yes,SSRI
1002,45,,No,Yes,,
1003,28,2019-11-02 14:30:00,No,No,,Benzodiazepine
`
	if string(cleaned) != wantCleaned {
		t.Errorf("cleaned output:\n%s\nwant:\n%s", cleaned, wantCleaned)
	}

	dbCopy, err := os.ReadFile(cfg.Output.DatabasePath)
	if err != nil {
		t.Fatalf("read database copy: %v", err)
	}
	wantDB := `patient_id,age,ocd_diagnosis_date,family_history_of_ocd,depression_diagnosis,anxiety_diagnosis,medications
1001,32,2020-03-15,Yes,No,Yes,SSRI
1002,45,,No,Yes,,
1003,28,2019-11-02,No,No,,Benzodiazepine
`
	if string(dbCopy) != wantDB {
		t.Errorf("database output:\n%s\nwant:\n%s", dbCopy, wantDB)
	}

	if storage.runID != result.RunID || storage.patients.Len() != 3 || len(storage.issues) != 1 {
		t.Errorf("storage not populated: run=%q rows=%d issues=%d", storage.runID, storage.patients.Len(), len(storage.issues))
	}
}

func TestRunnerReuseAccumulatesStats(t *testing.T) {
	cfg := testConfig(t, rawCSV)
	runner := NewRunner(cfg, nil, nil, &bytes.Buffer{})

	for i := 0; i < 2; i++ {
		if _, err := runner.Run(context.Background()); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if issues := runner.Cleaner().GetIssues(0); len(issues) != 0 {
			t.Fatalf("run %d: expected issues cleared after run, got %d", i, len(issues))
		}
	}

	stats := runner.Cleaner().GetStats()
	if stats.Runs != 2 {
		t.Fatalf("expected 2 runs, got %d", stats.Runs)
	}
	if stats.RowsIn != 8 || stats.RowsOut != 6 {
		t.Fatalf("expected 8 rows in and 6 out, got %d/%d", stats.RowsIn, stats.RowsOut)
	}
	if len(runner.Cleaner().Steps()) == 0 {
		t.Fatal("expected cleaner steps")
	}
}

func TestRunnerMissingInput(t *testing.T) {
	cfg := config.Default()
	cfg.Input.Path = filepath.Join(t.TempDir(), "absent.csv")
	if _, err := NewRunner(cfg, nil, nil, nil).Run(context.Background()); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestFormatDateColumn(t *testing.T) {
	src := table.FromStrings([]string{"d"}, [][]string{{"2020-03-15"}, {"2020-03-15 08:00:00"}, {"garbage"}})

	out, err := FormatDateColumn(src, "d", NewDateParser(8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value(0, 0) != "2020-03-15" || out.Value(1, 0) != "2020-03-15" {
		t.Errorf("unexpected dates: %q %q", out.Value(0, 0), out.Value(1, 0))
	}
	if out.Rows[2][0].Valid {
		t.Errorf("unparseable date should be missing")
	}
}

func TestDateParser(t *testing.T) {
	parser := NewDateParser(4)
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"03/15/2020", "2020-03-15", true},
		{"2020-03-15", "2020-03-15", true},
		{"20200315", "2020-03-15", true},
		{"2020", "2020-01-01", true},
		{"202003", "2020-03-01", true},
		{"20200315143000", "2020-03-15", true},
		{"1584230400", "", false},
		{"1584230400000", "", false},
		{"202013", "", false},
		{"March 15, 2020", "2020-03-15", true},
		{"not-a-date", "", false},
		{"12345", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			for i := 0; i < 2; i++ { // second pass hits the cache
				ts, ok := parser.Parse(tt.in)
				if ok != tt.ok {
					t.Fatalf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
				}
				if ok && ts.Format(table.DateLayout) != tt.want {
					t.Errorf("Parse(%q) = %s, want %s", tt.in, ts.Format(table.DateLayout), tt.want)
				}
			}
		})
	}
}
