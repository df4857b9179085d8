package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"

	"ocdprep/ml"
	"ocdprep/pipeline"
	"ocdprep/table"
)

var (
	ErrClosed = errors.New("store is closed")
	ErrNoRuns = errors.New("no cleaning runs stored")
)

// Config 存储配置
type Config struct {
	Path      string
	EnableWAL bool
}

// Store 清洗结果与训练日志的 sqlite 存储
type Store struct {
	config Config
	db     *sqlx.DB
	logger *zap.Logger
}

// PatientRow 暂存的一行清洗后数据
type PatientRow struct {
	RunID     string
	RowNumber int
	Data      map[string]null.String
}

// IssueCount 按类型统计的质量问题
type IssueCount struct {
	IssueType string `db:"issue_type"`
	Count     int    `db:"count"`
}

var _ pipeline.DataStorage = (*Store)(nil)
var _ ml.RunRecorder = (*Store)(nil)

// Open 打开数据库并建表
func Open(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Path == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	dsn := config.Path
	if config.EnableWAL {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_cache_size=10000&_synchronous=NORMAL"
	} else {
		dsn += "?_busy_timeout=5000&_cache_size=10000"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(1 * time.Hour)

	s := &Store{config: config, db: db, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	if err := s.createIndexes(); err != nil {
		logger.Warn("create indexes failed", zap.Error(err))
	}
	return s, nil
}

// createTables 创建表
func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS patients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            row_index INTEGER NOT NULL,
            data TEXT NOT NULL,
            created_at INTEGER DEFAULT (strftime('%s', 'now')),
            UNIQUE(run_id, row_index)
        )`,
		`CREATE TABLE IF NOT EXISTS data_quality (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            row_index INTEGER NOT NULL,
            column_name TEXT NOT NULL,
            value TEXT,
            issue_type TEXT NOT NULL,
            severity TEXT NOT NULL,
            message TEXT,
            timestamp INTEGER NOT NULL,
            created_at INTEGER DEFAULT (strftime('%s', 'now'))
        )`,
		`CREATE TABLE IF NOT EXISTS training_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL UNIQUE,
            model_name VARCHAR(50) NOT NULL,
            target TEXT NOT NULL,
            accuracy REAL,
            macro_precision REAL,
            macro_recall REAL,
            macro_f1 REAL,
            train_samples INTEGER,
            test_samples INTEGER,
            features INTEGER,
            classes INTEGER,
            model_path TEXT NOT NULL DEFAULT '',
            trained_at DATETIME NOT NULL
        )`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("exec query failed: %w", err)
		}
	}
	return nil
}

// createIndexes 创建索引
func (s *Store) createIndexes() error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_patients_run ON patients(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quality_run ON data_quality(run_id, issue_type)`,
		`CREATE INDEX IF NOT EXISTS idx_training_trained_at ON training_log(trained_at)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// SavePatients 批量保存清洗后数据, 每行存为 JSON
func (s *Store) SavePatients(ctx context.Context, runID string, t *table.Table) error {
	if s.db == nil {
		return ErrClosed
	}
	if t.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO patients
        (run_id, row_index, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	names := t.ColumnNames()
	for i, row := range t.Rows {
		record := make(map[string]null.String, len(names))
		for j, name := range names {
			record[name] = row[j]
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, i, string(data)); err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("patients saved", zap.String("run_id", runID), zap.Int("rows", t.Len()))
	return nil
}

// LoadPatients 读取某次运行暂存的数据, 按行号排序
func (s *Store) LoadPatients(ctx context.Context, runID string) ([]PatientRow, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var stored []struct {
		RowNumber int    `db:"row_index"`
		Data      string `db:"data"`
	}
	err := s.db.SelectContext(ctx, &stored,
		`SELECT row_index, data FROM patients WHERE run_id = ? ORDER BY row_index`, runID)
	if err != nil {
		return nil, err
	}

	rows := make([]PatientRow, 0, len(stored))
	for _, r := range stored {
		row := PatientRow{RunID: runID, RowNumber: r.RowNumber}
		if err := json.Unmarshal([]byte(r.Data), &row.Data); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", r.RowNumber, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CountPatients 统计某次运行的行数
func (s *Store) CountPatients(ctx context.Context, runID string) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM patients WHERE run_id = ?`, runID)
	return count, err
}

// LatestCleaningRun 最近一次暂存数据的运行 ID
func (s *Store) LatestCleaningRun(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", ErrClosed
	}
	var runID string
	err := s.db.GetContext(ctx, &runID, `SELECT run_id FROM patients ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	return runID, err
}

// SaveQualityIssues 保存质量问题
func (s *Store) SaveQualityIssues(ctx context.Context, runID string, issues []pipeline.QualityIssue) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(issues) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, issue := range issues {
		_, err := tx.ExecContext(ctx, `INSERT INTO data_quality
            (run_id, row_index, column_name, value, issue_type, severity, message, timestamp)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			issue.Row,
			issue.Column,
			issue.Value,
			issue.Type,
			issue.Severity,
			issue.Message,
			issue.Timestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
	}
	return tx.Commit()
}

// IssueCounts 按类型统计某次运行的质量问题
func (s *Store) IssueCounts(ctx context.Context, runID string) ([]IssueCount, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var counts []IssueCount
	err := s.db.SelectContext(ctx, &counts, `SELECT issue_type, COUNT(*) AS count
        FROM data_quality
        WHERE run_id = ?
        GROUP BY issue_type
        ORDER BY issue_type`, runID)
	return counts, err
}

// SaveTrainingRun 记录一次训练
func (s *Store) SaveTrainingRun(ctx context.Context, run ml.TrainingRun) error {
	if s.db == nil {
		return ErrClosed
	}
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO training_log (
            run_id, model_name, target, accuracy, macro_precision, macro_recall, macro_f1,
            train_samples, test_samples, features, classes, model_path, trained_at
        ) VALUES (
            :run_id, :model_name, :target, :accuracy, :macro_precision, :macro_recall, :macro_f1,
            :train_samples, :test_samples, :features, :classes, :model_path, :trained_at
        )`, run)
	return err
}

// LatestTrainingRuns 最近的训练记录, 新的在前
func (s *Store) LatestTrainingRuns(ctx context.Context, limit int) ([]ml.TrainingRun, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}
	runs := make([]ml.TrainingRun, 0, limit)
	err := s.db.SelectContext(ctx, &runs, `SELECT
            run_id, model_name, target, accuracy, macro_precision, macro_recall, macro_f1,
            train_samples, test_samples, features, classes, model_path, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
