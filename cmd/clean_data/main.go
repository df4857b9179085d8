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
	"ocdprep/pipeline"
	"ocdprep/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	input := flag.String("input", "", "raw CSV path")
	output := flag.String("output", "", "cleaned CSV path")
	dbOutput := flag.String("db_output", "", "database-ready CSV path")
	preview := flag.Int("preview", 0, "rows to preview")
	saveDB := flag.Bool("save_db", false, "stage the cleaned rows in sqlite")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *input != "" {
		cfg.Input.Path = *input
	}
	if *output != "" {
		cfg.Output.CleanedPath = *output
	}
	if *dbOutput != "" {
		cfg.Output.DatabasePath = *dbOutput
	}
	if *preview > 0 {
		cfg.Output.PreviewRows = *preview
	}
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

	var storage pipeline.DataStorage
	if cfg.Database.Enabled {
		s, err := store.Open(store.Config{Path: cfg.Database.Path, EnableWAL: true}, logger)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer s.Close()
		storage = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.NewRunner(cfg, storage, logger, os.Stdout).Run(ctx)
	if err != nil {
		logger.Fatal("cleaning failed", zap.Error(err))
	}

	fmt.Printf("\nData cleaning complete. Cleaned data saved to %s\n", result.CleanedPath)
	fmt.Printf("Dates formatted and saved to %s\n", result.DatabasePath)
}
