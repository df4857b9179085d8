package ml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocdprep/table"
)

const modelName = "random_forest"

var ErrModelMismatch = errors.New("reloaded model disagrees with trained model")

type TrainerOptions struct {
	TargetColumn    string
	TestRatio       float64
	Seed            int64
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	Workers         int
	ModelPath       string // empty skips saving
	PredictionCount int
}

// TrainingRun is the summary of one fit, as recorded in the training log.
type TrainingRun struct {
	RunID          string    `db:"run_id" json:"run_id"`
	ModelName      string    `db:"model_name" json:"model_name"`
	Target         string    `db:"target" json:"target"`
	Accuracy       float64   `db:"accuracy" json:"accuracy"`
	MacroPrecision float64   `db:"macro_precision" json:"macro_precision"`
	MacroRecall    float64   `db:"macro_recall" json:"macro_recall"`
	MacroF1        float64   `db:"macro_f1" json:"macro_f1"`
	TrainSamples   int       `db:"train_samples" json:"train_samples"`
	TestSamples    int       `db:"test_samples" json:"test_samples"`
	Features       int       `db:"features" json:"features"`
	Classes        int       `db:"classes" json:"classes"`
	ModelPath      string    `db:"model_path" json:"model_path"`
	TrainedAt      time.Time `db:"trained_at" json:"trained_at"`
}

type RunRecorder interface {
	SaveTrainingRun(ctx context.Context, run TrainingRun) error
}

type TrainingResult struct {
	Run         TrainingRun
	Dataset     *Dataset
	Model       *RandomForest
	Report      *ClassificationReport
	Confusion   *ConfusionMatrix
	Predictions []string
}

type Trainer struct {
	opts     TrainerOptions
	recorder RunRecorder
	logger   *zap.Logger
}

// NewTrainer recorder may be nil.
func NewTrainer(opts TrainerOptions, recorder RunRecorder, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TestRatio == 0 {
		opts.TestRatio = 0.2
	}
	if opts.NEstimators == 0 {
		opts.NEstimators = 100
	}
	if opts.PredictionCount == 0 {
		opts.PredictionCount = 10
	}
	return &Trainer{opts: opts, recorder: recorder, logger: logger}
}

// TrainFile loads a cleaned CSV, empty fields read as missing.
func (tr *Trainer) TrainFile(ctx context.Context, path string) (*TrainingResult, error) {
	data, err := table.ReadFile(path, table.WithMissing(""))
	if err != nil {
		return nil, err
	}
	tr.logger.Info("loaded training data",
		zap.String("path", path),
		zap.Int("rows", data.Len()),
		zap.Int("columns", data.Width()))
	return tr.Train(ctx, data)
}

func (tr *Trainer) Train(ctx context.Context, data *table.Table) (*TrainingResult, error) {
	runID := uuid.NewString()
	logger := tr.logger.With(zap.String("run_id", runID))

	dataset, err := BuildDataset(data, tr.opts.TargetColumn)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx, err := TrainTestSplit(len(dataset.X), tr.opts.TestRatio, tr.opts.Seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := Subset(dataset.X, dataset.Y, trainIdx)
	testX, testY := Subset(dataset.X, dataset.Y, testIdx)

	forest := &RandomForest{
		NEstimators:     tr.opts.NEstimators,
		MaxDepth:        tr.opts.MaxDepth,
		MinSamplesSplit: tr.opts.MinSamplesSplit,
		Seed:            tr.opts.Seed,
		Workers:         tr.opts.Workers,
	}
	started := time.Now()
	if err := forest.Train(trainX, trainY); err != nil {
		return nil, fmt.Errorf("train forest: %w", err)
	}
	logger.Info("forest trained",
		zap.Int("trees", forest.NumTrees()),
		zap.Int("train_samples", len(trainX)),
		zap.Int("features", len(dataset.FeatureNames)),
		zap.Duration("elapsed", time.Since(started)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	predicted, err := forest.PredictBatch(testX)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	report, err := NewClassificationReport(testY, predicted, dataset.Target)
	if err != nil {
		return nil, err
	}
	confusion, err := NewConfusionMatrix(testY, predicted)
	if err != nil {
		return nil, err
	}

	head := predicted
	if len(head) > tr.opts.PredictionCount {
		head = head[:tr.opts.PredictionCount]
	}
	decoded, err := dataset.Target.DecodeAll(head)
	if err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}

	run := TrainingRun{
		RunID:          runID,
		ModelName:      modelName,
		Target:         tr.opts.TargetColumn,
		Accuracy:       report.Accuracy,
		MacroPrecision: report.MacroAvg.Precision,
		MacroRecall:    report.MacroAvg.Recall,
		MacroF1:        report.MacroAvg.F1,
		TrainSamples:   len(trainX),
		TestSamples:    len(testX),
		Features:       len(dataset.FeatureNames),
		Classes:        dataset.Target.Len(),
		TrainedAt:      time.Now().UTC(),
	}

	if tr.opts.ModelPath != "" {
		if err := os.MkdirAll(filepath.Dir(tr.opts.ModelPath), 0o755); err != nil {
			return nil, fmt.Errorf("create model dir: %w", err)
		}
		if err := forest.Save(tr.opts.ModelPath); err != nil {
			return nil, fmt.Errorf("save model: %w", err)
		}
		if err := verifySavedModel(tr.opts.ModelPath, testX, predicted); err != nil {
			return nil, err
		}
		logger.Info("model saved", zap.String("path", tr.opts.ModelPath))
		run.ModelPath = tr.opts.ModelPath
	}

	if tr.recorder != nil {
		if err := tr.recorder.SaveTrainingRun(ctx, run); err != nil {
			return nil, fmt.Errorf("record training run: %w", err)
		}
	}

	logger.Info("evaluation finished",
		zap.Float64("accuracy", run.Accuracy),
		zap.Float64("macro_f1", run.MacroF1),
		zap.Int("test_samples", run.TestSamples))

	return &TrainingResult{
		Run:         run,
		Dataset:     dataset,
		Model:       forest,
		Report:      report,
		Confusion:   confusion,
		Predictions: decoded,
	}, nil
}

// verifySavedModel reloads the model file and checks it reproduces the
// holdout predictions.
func verifySavedModel(path string, features [][]float64, want []int) error {
	model, err := LoadModel(modelName, path)
	if err != nil {
		return fmt.Errorf("reload model: %w", err)
	}
	for i, row := range features {
		got, _, err := model.Predict(row)
		if err != nil {
			return fmt.Errorf("reload model: row %d: %w", i, err)
		}
		if got != want[i] {
			return fmt.Errorf("%w: row %d predicted %d, want %d", ErrModelMismatch, i, got, want[i])
		}
	}
	return nil
}

// WriteResult prints the report, the confusion matrix and the decoded
// predictions.
func WriteResult(w io.Writer, r *TrainingResult) error {
	if _, err := fmt.Fprintln(w, "Classification Report:"); err != nil {
		return err
	}
	if _, err := r.Report.WriteTo(w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Confusion Matrix:")
	if _, err := r.Confusion.WriteTo(w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Predicted Medications:")
	for _, p := range r.Predictions {
		if p == "" {
			p = `""`
		}
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
