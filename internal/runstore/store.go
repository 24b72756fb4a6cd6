package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/storyflow/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runRow 对应 workflow_runs 表
type runRow struct {
	RunID      string     `gorm:"column:run_id;primaryKey;size:64"`
	WorkflowID string     `gorm:"column:workflow_id;size:128;not null"`
	Status     string     `gorm:"column:status;size:16;not null"`
	Input      string     `gorm:"column:input;type:text"`
	Output     string     `gorm:"column:output;type:text"`
	Error      string     `gorm:"column:error;type:text"`
	StartedAt  time.Time  `gorm:"column:started_at;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at"`

	Steps []stepRow `gorm:"foreignKey:RunID;references:RunID"`
}

func (runRow) TableName() string { return "workflow_runs" }

// stepRow 对应 workflow_run_steps 表，seq 保留运行路径上的顺序
type stepRow struct {
	ID         uint      `gorm:"column:id;primaryKey"`
	RunID      string    `gorm:"column:run_id;size:64;not null"`
	Seq        int       `gorm:"column:seq;not null"`
	StepID     string    `gorm:"column:step_id;size:128;not null"`
	Status     string    `gorm:"column:status;size:16;not null"`
	StartedAt  time.Time `gorm:"column:started_at;not null"`
	DurationMs int64     `gorm:"column:duration_ms;not null"`
	Resumed    bool      `gorm:"column:resumed;not null"`
	Error      string    `gorm:"column:error;type:text"`
}

func (stepRow) TableName() string { return "workflow_run_steps" }

// Store 是 workflow.HistoryStore 的 GORM 实现。表结构由 internal/migration 创建。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ workflow.HistoryStore = (*Store)(nil)

// New 创建运行历史存储
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "runstore")),
	}
}

// SaveRun 写入或替换一条运行记录。同一个运行在挂起、恢复、结束时会多次保存，
// 步骤列表整体替换。
func (s *Store) SaveRun(ctx context.Context, run *workflow.RunRecord) error {
	row := toRow(run)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", row.RunID).Delete(&stepRow{}).Error; err != nil {
			return err
		}
		if len(row.Steps) == 0 {
			return nil
		}
		return tx.Create(&row.Steps).Error
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)),
		zap.Int("steps", len(run.Steps)))
	return nil
}

// GetRun 按运行 ID 读取记录，不存在时返回 workflow.ErrRunNotFound
func (s *Store) GetRun(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).
		Preload("Steps", orderBySeq).
		Where("run_id = ?", runID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return fromRow(&row), nil
}

// ListRuns 按开始时间倒序返回某个工作流的运行；workflowID 为空时列出全部
func (s *Store) ListRuns(ctx context.Context, workflowID string, limit int) ([]*workflow.RunRecord, error) {
	q := s.db.WithContext(ctx).Preload("Steps", orderBySeq).Order("started_at DESC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*workflow.RunRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

func orderBySeq(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

func toRow(run *workflow.RunRecord) runRow {
	row := runRow{
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		Status:     string(run.Status),
		Input:      string(run.Input),
		Output:     string(run.Output),
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC(),
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt.UTC()
		row.FinishedAt = &finished
	}
	for i, st := range run.Steps {
		row.Steps = append(row.Steps, stepRow{
			RunID:      run.RunID,
			Seq:        i,
			StepID:     st.StepID,
			Status:     string(st.Status),
			StartedAt:  st.StartedAt.UTC(),
			DurationMs: st.Duration.Milliseconds(),
			Resumed:    st.Resumed,
			Error:      st.Error,
		})
	}
	return row
}

func fromRow(row *runRow) *workflow.RunRecord {
	rec := &workflow.RunRecord{
		RunID:      row.RunID,
		WorkflowID: row.WorkflowID,
		Status:     workflow.RunStatus(row.Status),
		Input:      rawJSON(row.Input),
		Output:     rawJSON(row.Output),
		Error:      row.Error,
		StartedAt:  row.StartedAt,
		Steps:      make([]workflow.StepRecord, 0, len(row.Steps)),
	}
	if row.FinishedAt != nil {
		rec.FinishedAt = *row.FinishedAt
	}
	for _, st := range row.Steps {
		rec.Steps = append(rec.Steps, workflow.StepRecord{
			StepID:    st.StepID,
			Status:    workflow.StepStatus(st.Status),
			StartedAt: st.StartedAt,
			Duration:  time.Duration(st.DurationMs) * time.Millisecond,
			Resumed:   st.Resumed,
			Error:     st.Error,
		})
	}
	return rec
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
