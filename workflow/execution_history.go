package workflow

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// RunStatus represents the status of a run
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the run produced its final output
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the run failed
	RunStatusFailed RunStatus = "failed"
	// RunStatusSuspended indicates the run waits for resume input
	RunStatusSuspended RunStatus = "suspended"
)

// StepStatus represents the outcome of one step execution
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSuspended StepStatus = "suspended"
)

// StepRecord records the execution of a single step
type StepRecord struct {
	StepID    string        `json:"step_id"`
	Status    StepStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Resumed   bool          `json:"resumed,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RunRecord records the complete execution path of a run
type RunRecord struct {
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	Status     RunStatus       `json:"status"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Steps      []StepRecord    `json:"steps"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// HistoryStore stores and queries run records
type HistoryStore interface {
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error)
}

// MemoryHistoryStore is an in-process HistoryStore
type MemoryHistoryStore struct {
	runs map[string]*RunRecord
	mu   sync.RWMutex
}

// NewMemoryHistoryStore creates a new in-memory history store
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		runs: make(map[string]*RunRecord),
	}
}

// SaveRun saves (or replaces) a run record
func (s *MemoryHistoryStore) SaveRun(_ context.Context, run *RunRecord) error {
	cp := *run
	cp.Steps = slices.Clone(run.Steps)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = &cp
	return nil
}

// GetRun retrieves a run record by ID
func (s *MemoryHistoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns the newest runs of a workflow first; an empty workflowID lists all
func (s *MemoryHistoryStore) ListRuns(_ context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*RunRecord
	for _, r := range s.runs {
		if workflowID == "" || r.WorkflowID == workflowID {
			cp := *r
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *RunRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByStatus returns runs with a specific status
func (s *MemoryHistoryStore) ListByStatus(status RunStatus) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*RunRecord
	for _, r := range s.runs {
		if r.Status == status {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result
}
