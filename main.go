package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ocdprep/config"
	"ocdprep/logging"
	"ocdprep/ml"
	"ocdprep/pipeline"
	"ocdprep/store"
)

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	runner *pipeline.Runner
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ocdprep",
		Short:         "Clean the OCD patient dataset and train the medication classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	rootCmd.AddCommand(cleanCmd(&configPath))
	rootCmd.AddCommand(trainCmd(&configPath))
	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(watchCmd(&configPath))
	rootCmd.AddCommand(historyCmd(&configPath))
	rootCmd.AddCommand(qualityCmd(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func cleanCmd(configPath *string) *cobra.Command {
	var input, output, dbOutput string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean the raw CSV and write the cleaned and database-ready copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, func(cfg *config.Config) {
				overrideString(&cfg.Input.Path, input)
				overrideString(&cfg.Output.CleanedPath, output)
				overrideString(&cfg.Output.DatabasePath, dbOutput)
			})
			if err != nil {
				return err
			}
			defer a.close()
			_, err = a.clean(cmd.Context())
			return err
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "raw CSV path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "cleaned CSV path")
	cmd.Flags().StringVar(&dbOutput, "db-output", "", "database-ready CSV path")
	return cmd
}

func trainCmd(configPath *string) *cobra.Command {
	var input, target, modelPath string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the random forest on a cleaned CSV and print the evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, func(cfg *config.Config) {
				overrideString(&cfg.ML.TrainPath, input)
				overrideString(&cfg.ML.TargetColumn, target)
				overrideString(&cfg.ML.ModelPath, modelPath)
			})
			if err != nil {
				return err
			}
			defer a.close()
			return a.train(cmd.Context(), a.cfg.ML.TrainPath)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "cleaned CSV path")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target column")
	cmd.Flags().StringVar(&modelPath, "model", "", "write the trained model to this path")
	return cmd
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Clean, then train on the database-ready copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()
			result, err := a.clean(cmd.Context())
			if err != nil {
				return err
			}
			return a.train(cmd.Context(), result.DatabasePath)
		},
	}
}

func watchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run the cleaner whenever the input file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()
			watcher := pipeline.NewWatcher(a.cfg.Input.Path, a.cfg.Cleaning.WatchDebounce, func(ctx context.Context) error {
				_, err := a.clean(ctx)
				return err
			}, a.logger)
			return watcher.Watch(cmd.Context())
		},
	}
}

func historyCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent training runs from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, func(cfg *config.Config) {
				cfg.Database.Enabled = true
			})
			if err != nil {
				return err
			}
			defer a.close()
			runs, err := a.store.LatestTrainingRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Printf("%s  %s  target=%s  accuracy=%.4f  macro_f1=%.4f  train=%d  test=%d\n",
					run.TrainedAt.Format("2006-01-02 15:04:05"), run.RunID, run.Target,
					run.Accuracy, run.MacroF1, run.TrainSamples, run.TestSamples)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func qualityCmd(configPath *string) *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:   "quality [run-id]",
		Short: "Show staged rows and quality issues of a cleaning run, the latest by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, func(cfg *config.Config) {
				cfg.Database.Enabled = true
			})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			} else if runID, err = a.store.LatestCleaningRun(ctx); err != nil {
				return err
			}

			count, err := a.store.CountPatients(ctx, runID)
			if err != nil {
				return err
			}
			counts, err := a.store.IssueCounts(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d rows staged\n", runID, count)
			for _, c := range counts {
				fmt.Printf("  %-16s %d\n", c.IssueType, c.Count)
			}

			if show > 0 {
				rows, err := a.store.LoadPatients(ctx, runID)
				if err != nil {
					return err
				}
				if len(rows) > show {
					rows = rows[:show]
				}
				for _, row := range rows {
					data, err := json.Marshal(row.Data)
					if err != nil {
						return err
					}
					fmt.Printf("  #%d %s\n", row.RowNumber, data)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&show, "show", 0, "print the first n staged rows")
	return cmd
}

func newApp(configPath string, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.Database.Enabled {
		a.store, err = store.Open(store.Config{Path: cfg.Database.Path, EnableWAL: true}, logger)
		if err != nil {
			logger.Sync()
			return nil, err
		}
		logger.Info("database opened", zap.String("path", cfg.Database.Path))
	}
	return a, nil
}

func (a *app) clean(ctx context.Context) (*pipeline.Result, error) {
	// watch 模式复用同一个 runner，统计跨运行累计
	if a.runner == nil {
		var storage pipeline.DataStorage
		if a.store != nil {
			storage = a.store
		}
		a.runner = pipeline.NewRunner(a.cfg, storage, a.logger, os.Stdout)
	}
	result, err := a.runner.Run(ctx)
	if err != nil {
		a.logger.Error("cleaning failed", zap.Error(err))
		return nil, err
	}
	stats := a.runner.Cleaner().GetStats()
	fmt.Printf("\nData cleaning complete. Cleaned data saved to %s\n", result.CleanedPath)
	fmt.Printf("Dates formatted and saved to %s\n", result.DatabasePath)
	fmt.Printf("Runs: %d, rows in: %d, rows out: %d, duplicates dropped: %d, dates coerced: %d\n",
		stats.Runs, stats.RowsIn, stats.RowsOut, stats.Changes["drop_duplicates"], stats.Issues["date_coerced"])
	return result, nil
}

func (a *app) train(ctx context.Context, path string) error {
	var recorder ml.RunRecorder
	if a.store != nil {
		recorder = a.store
	}
	trainer := ml.NewTrainer(ml.TrainerOptions{
		TargetColumn:    a.cfg.ML.TargetColumn,
		TestRatio:       a.cfg.ML.TestRatio,
		Seed:            *a.cfg.ML.Seed,
		NEstimators:     a.cfg.ML.NEstimators,
		MaxDepth:        a.cfg.ML.MaxDepth,
		MinSamplesSplit: a.cfg.ML.MinSamplesSplit,
		Workers:         a.cfg.ML.Workers,
		ModelPath:       a.cfg.ML.ModelPath,
		PredictionCount: a.cfg.ML.PredictionCount,
	}, recorder, a.logger)

	result, err := trainer.TrainFile(ctx, path)
	if err != nil {
		a.logger.Error("training failed", zap.Error(err))
		return err
	}
	return ml.WriteResult(os.Stdout, result)
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
