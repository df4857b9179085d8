package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ocdprep/config"
	"ocdprep/logging"
	"ocdprep/ml"
	"ocdprep/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	input := flag.String("input", "", "cleaned CSV path")
	target := flag.String("target", "", "target column")
	modelPath := flag.String("model_path", "", "model output path")
	nEstimators := flag.Int("n_estimators", 0, "number of trees")
	maxDepth := flag.Int("max_depth", 0, "max tree depth, 0 for unlimited")
	testRatio := flag.Float64("test_ratio", 0, "test ratio")
	seed := flag.Int64("seed", 42, "random seed")
	saveDB := flag.Bool("save_db", false, "record the run in the training log")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *input != "" {
		cfg.ML.TrainPath = *input
	}
	if *target != "" {
		cfg.ML.TargetColumn = *target
	}
	if *modelPath != "" {
		cfg.ML.ModelPath = *modelPath
	}
	if *nEstimators > 0 {
		cfg.ML.NEstimators = *nEstimators
	}
	if *maxDepth > 0 {
		cfg.ML.MaxDepth = *maxDepth
	}
	if *testRatio > 0 {
		cfg.ML.TestRatio = *testRatio
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			cfg.ML.Seed = seed
		}
	})
	if *saveDB {
		cfg.Database.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var recorder ml.RunRecorder
	if cfg.Database.Enabled {
		s, err := store.Open(store.Config{Path: cfg.Database.Path, EnableWAL: true}, logger)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer s.Close()
		recorder = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trainer := ml.NewTrainer(ml.TrainerOptions{
		TargetColumn:    cfg.ML.TargetColumn,
		TestRatio:       cfg.ML.TestRatio,
		Seed:            *cfg.ML.Seed,
		NEstimators:     cfg.ML.NEstimators,
		MaxDepth:        cfg.ML.MaxDepth,
		MinSamplesSplit: cfg.ML.MinSamplesSplit,
		Workers:         cfg.ML.Workers,
		ModelPath:       cfg.ML.ModelPath,
		PredictionCount: cfg.ML.PredictionCount,
	}, recorder, logger)

	result, err := trainer.TrainFile(ctx, cfg.ML.TrainPath)
	if err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}
	if err := ml.WriteResult(os.Stdout, result); err != nil {
		logger.Fatal("failed to write report", zap.Error(err))
	}
	if cfg.ML.ModelPath != "" {
		fmt.Printf("\nmodel saved to %s\n", cfg.ML.ModelPath)
	}
}
