package pipeline

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocdprep/table"
)

// CleaningStep 清洗步骤，输入表不被修改，返回新表
type CleaningStep interface {
	Apply(*table.Table) (*table.Table, StepReport, error)
	Name() string
}

// StepReport 单个步骤的执行结果
type StepReport struct {
	Changed int            `json:"changed"` // 被修改（或删除）的单元格/行数
	Issues  []QualityIssue `json:"issues,omitempty"`
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Row       int       `json:"row"`
	Column    string    `json:"column"`
	Value     string    `json:"value"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	Runs      int64            `json:"runs"`
	RowsIn    int64            `json:"rows_in"`
	RowsOut   int64            `json:"rows_out"`
	Changes   map[string]int64 `json:"changes"`
	Issues    map[string]int64 `json:"issues"`
	LastClean time.Time        `json:"last_clean"`
}

// CleanerOptions 清洗配置
type CleanerOptions struct {
	DateColumn    string
	BinaryColumns []string
	MissingValues []string
	DateCacheSize int
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	steps  []CleaningStep
	logger *zap.Logger

	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewDataCleaner 创建数据清洗器，按固定顺序装载默认步骤
func NewDataCleaner(opts CleanerOptions, logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats: CleaningStats{
			Changes: make(map[string]int64),
			Issues:  make(map[string]int64),
		},
	}

	parser := NewDateParser(opts.DateCacheSize)
	cleaner.AddStep(NewNormalizeColumnsStep())
	cleaner.AddStep(NewParseDatesStep(opts.DateColumn, parser, opts.MissingValues))
	cleaner.AddStep(NewMissingValuesStep(opts.MissingValues))
	cleaner.AddStep(NewBinaryCanonicalStep(opts.BinaryColumns))
	cleaner.AddStep(NewDropDuplicatesStep())

	return cleaner
}

// AddStep 添加清洗步骤
func (dc *DataCleaner) AddStep(step CleaningStep) {
	dc.steps = append(dc.steps, step)
	dc.logger.Debug("added cleaning step", zap.String("step", step.Name()))
}

// Steps 返回步骤名称（按执行顺序）
func (dc *DataCleaner) Steps() []string {
	names := make([]string, len(dc.steps))
	for i, step := range dc.steps {
		names[i] = step.Name()
	}
	return names
}

// Clean 依次执行所有步骤
func (dc *DataCleaner) Clean(t *table.Table) (*table.Table, []QualityIssue, error) {
	var issues []QualityIssue
	changes := make(map[string]int, len(dc.steps))

	current := t
	for _, step := range dc.steps {
		next, report, err := step.Apply(current)
		if err != nil {
			return nil, issues, fmt.Errorf("%s: %w", step.Name(), err)
		}
		changes[step.Name()] = report.Changed
		issues = append(issues, report.Issues...)
		dc.logger.Debug("cleaning step done",
			zap.String("step", step.Name()),
			zap.Int("changed", report.Changed),
			zap.Int("issues", len(report.Issues)),
			zap.Int("rows", next.Len()))
		current = next
	}

	dc.record(t.Len(), current.Len(), changes, issues)
	return current, issues, nil
}

// record 记录统计与问题
func (dc *DataCleaner) record(rowsIn, rowsOut int, changes map[string]int, issues []QualityIssue) {
	dc.statsLock.Lock()
	dc.stats.Runs++
	dc.stats.RowsIn += int64(rowsIn)
	dc.stats.RowsOut += int64(rowsOut)
	for name, n := range changes {
		dc.stats.Changes[name] += int64(n)
	}
	for _, issue := range issues {
		dc.stats.Issues[issue.Type]++
	}
	dc.stats.LastClean = time.Now()
	dc.statsLock.Unlock()

	if len(issues) > 0 {
		dc.issuesLock.Lock()
		dc.issues = append(dc.issues, issues...)
		dc.issuesLock.Unlock()
	}
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Changes = make(map[string]int64, len(dc.stats.Changes))
	for k, v := range dc.stats.Changes {
		stats.Changes[k] = v
	}
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取最近 limit 条问题
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ClearIssues 清空问题列表
func (dc *DataCleaner) ClearIssues() {
	dc.issuesLock.Lock()
	defer dc.issuesLock.Unlock()

	dc.issues = make([]QualityIssue, 0)
}
