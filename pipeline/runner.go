package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocdprep/config"
	"ocdprep/table"
)

const maxLoggedIssues = 100

// DataStorage 清洗结果存储接口
type DataStorage interface {
	SavePatients(ctx context.Context, runID string, t *table.Table) error
	SaveQualityIssues(ctx context.Context, runID string, issues []QualityIssue) error
}

// Result 一次清洗运行的结果
type Result struct {
	RunID        string
	Cleaned      *table.Table
	DatabaseCopy *table.Table
	Issues       []QualityIssue
	CleanedPath  string
	DatabasePath string
}

// Runner 读取、清洗、导出
type Runner struct {
	cfg     *config.Config
	cleaner *DataCleaner
	parser  *DateParser
	storage DataStorage
	logger  *zap.Logger
	out     io.Writer
}

// NewRunner storage 可以为 nil
func NewRunner(cfg *config.Config, storage DataStorage, logger *zap.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	opts := CleanerOptions{
		DateColumn:    cfg.Cleaning.DateColumn,
		BinaryColumns: cfg.Cleaning.BinaryColumns,
		MissingValues: cfg.Cleaning.MissingValues,
		DateCacheSize: cfg.Cleaning.DateCacheSize,
	}
	cleaner := NewDataCleaner(opts, logger)
	logger.Debug("cleaner ready", zap.Strings("steps", cleaner.Steps()))
	return &Runner{
		cfg:     cfg,
		cleaner: cleaner,
		parser:  NewDateParser(cfg.Cleaning.DateCacheSize),
		storage: storage,
		logger:  logger,
		out:     out,
	}
}

func (r *Runner) Cleaner() *DataCleaner {
	return r.cleaner
}

// Run 执行完整清洗流程
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))

	raw, err := table.ReadFile(r.cfg.Input.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded raw data",
		zap.String("path", r.cfg.Input.Path),
		zap.Int("rows", raw.Len()),
		zap.Int("columns", raw.Width()))

	cleaned, issues, err := r.cleaner.Clean(raw)
	if err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	// 只记录最近的问题，运行结束后清空，watch 模式下不累积
	defer r.cleaner.ClearIssues()
	for _, issue := range r.cleaner.GetIssues(maxLoggedIssues) {
		logger.Debug("quality issue",
			zap.String("type", issue.Type),
			zap.Int("row", issue.Row),
			zap.String("column", issue.Column),
			zap.String("value", issue.Value))
	}

	if err := WritePreview(r.out, cleaned, r.cfg.Output.PreviewRows); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}

	for _, path := range []string{r.cfg.Output.CleanedPath, r.cfg.Output.DatabasePath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := ExportCleaned(r.cfg.Output.CleanedPath, cleaned); err != nil {
		return nil, err
	}
	dbCopy, err := ExportForDatabase(r.cfg.Output.CleanedPath, r.cfg.Output.DatabasePath, r.cfg.Cleaning.DateColumn, r.parser)
	if err != nil {
		return nil, err
	}

	if r.storage != nil {
		if err := r.storage.SavePatients(ctx, runID, dbCopy); err != nil {
			return nil, fmt.Errorf("store patients: %w", err)
		}
		if err := r.storage.SaveQualityIssues(ctx, runID, issues); err != nil {
			return nil, fmt.Errorf("store quality issues: %w", err)
		}
	}

	logger.Info("cleaning finished",
		zap.Int("rows_in", raw.Len()),
		zap.Int("rows_out", cleaned.Len()),
		zap.Int("issues", len(issues)),
		zap.String("cleaned", r.cfg.Output.CleanedPath),
		zap.String("database_copy", r.cfg.Output.DatabasePath))

	stats := r.cleaner.GetStats()
	logger.Info("cleaner stats",
		zap.Int64("runs", stats.Runs),
		zap.Int64("rows_in", stats.RowsIn),
		zap.Int64("rows_out", stats.RowsOut),
		zap.Any("changes", stats.Changes),
		zap.Any("issues", stats.Issues))

	return &Result{
		RunID:        runID,
		Cleaned:      cleaned,
		DatabaseCopy: dbCopy,
		Issues:       issues,
		CleanedPath:  r.cfg.Output.CleanedPath,
		DatabasePath: r.cfg.Output.DatabasePath,
	}, nil
}
