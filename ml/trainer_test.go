package ml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ocdprep/table"
)

type memoryRecorder struct {
	runs []TrainingRun
}

func (m *memoryRecorder) SaveTrainingRun(_ context.Context, run TrainingRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func medicationTable(n int) *table.Table {
	meds := []string{"SSRI", "SNRI", "Benzodiazepine"}
	genders := []string{"Male", "Female"}
	rows := make([]table.Row, n)
	for i := range rows {
		rows[i] = cells(
			fmt.Sprint(1000+i),
			fmt.Sprint(20+i%40),
			genders[i%2],
			fmt.Sprint(10+i%3*8),
			meds[i%3],
		)
	}
	return table.New([]table.Column{
		{Name: "patient_id"},
		{Name: "age"},
		{Name: "gender"},
		{Name: "y_bocs_score_obsessions"},
		{Name: "medications"},
	}, rows)
}

func TestTrainerThreeLabels(t *testing.T) {
	recorder := &memoryRecorder{}
	modelPath := filepath.Join(t.TempDir(), "models", "rf.json")
	trainer := NewTrainer(TrainerOptions{
		TargetColumn: "medications",
		TestRatio:    0.2,
		Seed:         42,
		NEstimators:  20,
		ModelPath:    modelPath,
	}, recorder, nil)

	result, err := trainer.Train(context.Background(), medicationTable(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Dataset.Target.Len() != 3 {
		t.Fatalf("expected 3 target codes, got %d", result.Dataset.Target.Len())
	}
	if result.Run.TrainSamples != 24 || result.Run.TestSamples != 6 {
		t.Fatalf("expected 24/6 split, got %d/%d", result.Run.TrainSamples, result.Run.TestSamples)
	}
	if len(result.Predictions) != 6 {
		t.Fatalf("expected 6 decoded predictions, got %d", len(result.Predictions))
	}
	valid := map[string]bool{"SSRI": true, "SNRI": true, "Benzodiazepine": true}
	for _, p := range result.Predictions {
		if !valid[p] {
			t.Fatalf("prediction %q is not one of the training labels", p)
		}
	}
	for _, c := range result.Report.Classes {
		if c.Label < 0 || c.Label > 2 {
			t.Fatalf("unexpected class code %d", c.Label)
		}
	}

	if len(recorder.runs) != 1 || recorder.runs[0].RunID != result.Run.RunID {
		t.Fatalf("expected training run to be recorded, got %+v", recorder.runs)
	}
	if _, err := os.Stat(modelPath); err != nil {
		t.Fatalf("model not saved: %v", err)
	}
	if _, err := LoadModel("random_forest", modelPath); err != nil {
		t.Fatalf("reload model: %v", err)
	}
}

func TestTrainerPredictionCount(t *testing.T) {
	trainer := NewTrainer(TrainerOptions{
		TargetColumn:    "medications",
		Seed:            42,
		NEstimators:     5,
		PredictionCount: 10,
	}, nil, nil)
	result, err := trainer.Train(context.Background(), medicationTable(90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.TestSamples != 18 {
		t.Fatalf("expected 18 test samples, got %d", result.Run.TestSamples)
	}
	if len(result.Predictions) != 10 {
		t.Fatalf("expected first 10 predictions, got %d", len(result.Predictions))
	}
}

func TestTrainerDeterministic(t *testing.T) {
	opts := TrainerOptions{TargetColumn: "medications", Seed: 42, NEstimators: 15}
	a, err := NewTrainer(opts, nil, nil).Train(context.Background(), medicationTable(45))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewTrainer(opts, nil, nil).Train(context.Background(), medicationTable(45))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(a.Predictions, ",") != strings.Join(b.Predictions, ",") {
		t.Fatalf("predictions differ: %v vs %v", a.Predictions, b.Predictions)
	}
	if a.Run.Accuracy != b.Run.Accuracy {
		t.Fatalf("accuracy differs: %v vs %v", a.Run.Accuracy, b.Run.Accuracy)
	}
}

func TestTrainerMissingTarget(t *testing.T) {
	trainer := NewTrainer(TrainerOptions{TargetColumn: "treatment"}, nil, nil)
	if _, err := trainer.Train(context.Background(), medicationTable(10)); err == nil {
		t.Fatal("expected error for missing target column")
	}
}

func TestTrainFileAndWriteResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	if err := table.WriteFile(path, medicationTable(30)); err != nil {
		t.Fatalf("write: %v", err)
	}

	trainer := NewTrainer(TrainerOptions{TargetColumn: "medications", Seed: 42, NEstimators: 10}, nil, nil)
	result, err := trainer.TrainFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteResult(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Classification Report:", "Confusion Matrix:", "Predicted Medications:", "accuracy"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVerifySavedModel(t *testing.T) {
	features, labels := separableData()
	forest := NewRandomForest(5, 42)
	if err := forest.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "rf.json")
	if err := forest.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	predicted, err := forest.PredictBatch(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := verifySavedModel(path, features, predicted); err != nil {
		t.Fatalf("expected saved model to match: %v", err)
	}

	wrong := append([]int(nil), predicted...)
	wrong[0] = 1 - wrong[0]
	if err := verifySavedModel(path, features, wrong); !errors.Is(err, ErrModelMismatch) {
		t.Fatalf("expected ErrModelMismatch, got %v", err)
	}
	if err := verifySavedModel(filepath.Join(t.TempDir(), "absent.json"), features, predicted); err == nil {
		t.Fatal("expected error for missing model file")
	}
}
