package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/BaSui01/storyflow/config"
	"github.com/BaSui01/storyflow/internal/database"
	"github.com/BaSui01/storyflow/internal/migration"
	"github.com/BaSui01/storyflow/workflow"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newSQLiteStore 在临时文件上执行真实迁移后返回 Store
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "runs.db")}

	m, err := migration.NewMigratorFromConfig(ctx, dbCfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Close())

	db, err := database.Open(dbCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(db, zap.NewNop())
}

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func suspendedRun(id, workflowID string, started time.Time) *workflow.RunRecord {
	return &workflow.RunRecord{
		RunID:      id,
		WorkflowID: workflowID,
		Status:     workflow.RunStatusSuspended,
		Input:      json.RawMessage(`{"projectName":"billing"}`),
		StartedAt:  started,
		Steps: []workflow.StepRecord{
			{StepID: "frame-problem", Status: workflow.StepStatusCompleted, StartedAt: started, Duration: 1500 * time.Millisecond},
			{StepID: "clarify", Status: workflow.StepStatusSuspended, StartedAt: started.Add(2 * time.Second), Duration: 20 * time.Millisecond},
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	run := suspendedRun("run-1", "story-mapping-workflow", t0)
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "story-mapping-workflow", got.WorkflowID)
	assert.Equal(t, workflow.RunStatusSuspended, got.Status)
	assert.JSONEq(t, `{"projectName":"billing"}`, string(got.Input))
	assert.Nil(t, got.Output)
	assert.True(t, got.StartedAt.Equal(t0))
	assert.True(t, got.FinishedAt.IsZero())
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "frame-problem", got.Steps[0].StepID)
	assert.Equal(t, 1500*time.Millisecond, got.Steps[0].Duration)
	assert.Equal(t, workflow.StepStatusSuspended, got.Steps[1].Status)
}

func TestStore_SaveReplacesResumedRun(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	run := suspendedRun("run-1", "story-mapping-workflow", t0)
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = workflow.RunStatusCompleted
	run.Output = json.RawMessage(`{"sessions":[]}`)
	run.FinishedAt = t0.Add(time.Minute)
	run.Steps[1] = workflow.StepRecord{StepID: "clarify", Status: workflow.StepStatusCompleted, StartedAt: t0.Add(30 * time.Second), Resumed: true}
	run.Steps = append(run.Steps, workflow.StepRecord{StepID: "schedule", Status: workflow.StepStatusCompleted, StartedAt: t0.Add(40 * time.Second)})
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCompleted, got.Status)
	assert.JSONEq(t, `{"sessions":[]}`, string(got.Output))
	assert.True(t, got.FinishedAt.Equal(t0.Add(time.Minute)))
	require.Len(t, got.Steps, 3)
	assert.True(t, got.Steps[1].Resumed)
	assert.Equal(t, []string{"frame-problem", "clarify", "schedule"},
		[]string{got.Steps[0].StepID, got.Steps[1].StepID, got.Steps[2].StepID})
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := newSQLiteStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveRun(ctx, suspendedRun(fmt.Sprintf("sm-%d", i), "story-mapping-workflow", t0.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, store.SaveRun(ctx, suspendedRun("epic-0", "epic-mapping-workflow", t0)))

	runs, err := store.ListRuns(ctx, "story-mapping-workflow", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "sm-2", runs[0].RunID)
	assert.Equal(t, "sm-1", runs[1].RunID)
	assert.Len(t, runs[0].Steps, 2)

	all, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_ExecutorHistory(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	wf, err := workflow.New("echo-workflow").
		Then(workflow.NewRawStep("echo", nil, nil, func(_ context.Context, _ *workflow.StepContext, in json.RawMessage) (json.RawMessage, error) {
			return in, nil
		})).
		Commit()
	require.NoError(t, err)

	exec := workflow.NewExecutor(workflow.NewMemorySuspendStore(nil), workflow.WithHistory(store))
	res, err := exec.Run(ctx, wf, json.RawMessage(`{"a":1}`), nil)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCompleted, got.Status)
	assert.JSONEq(t, `{"a":1}`, string(got.Output))
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "echo", got.Steps[0].StepID)
}

func TestStore_DatabaseErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	store := New(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "workflow_runs"`)).WillReturnError(assert.AnError)
	_, err = store.GetRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrRunNotFound)
	assert.Contains(t, err.Error(), "get run run-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "workflow_runs"`)).WillReturnError(assert.AnError)
	mock.ExpectRollback()
	err = store.SaveRun(context.Background(), suspendedRun("run-1", "wf", t0))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}
