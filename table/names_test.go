package table

import (
	"errors"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OCD Diagnosis Date", "ocd_diagnosis_date"},
		{"  Family History of OCD ", "family_history_of_ocd"},
		{"Y-BOCS Score (Obsessions)", "y-bocs_score_obsessions"},
		{"Duration of Symptoms (months)", "duration_of_symptoms_months"},
		{"Medications", "medications"},
		{"already_normal", "already_normal"},
		{"(\tX", "x"},
		{"a (\t)", "a_"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeName(tt.in); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	inputs := []string{
		"OCD Diagnosis Date",
		" Y-BOCS Score (Compulsions) ",
		"( leading paren",
		"Trailing )",
		"MiXeD  Spaces",
		"tab\tinside",
		"",
	}
	for _, in := range inputs {
		once := NormalizeName(in)
		twice := NormalizeName(once)
		if once != twice {
			t.Errorf("NormalizeName not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeNamesCollision(t *testing.T) {
	_, err := NormalizeNames([]string{"Patient ID", "patient id"})
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("expected ErrDuplicateColumn, got %v", err)
	}

	names, err := NormalizeNames([]string{"Patient ID", "Age"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names[0] != "patient_id" || names[1] != "age" {
		t.Fatalf("unexpected names: %v", names)
	}
}
