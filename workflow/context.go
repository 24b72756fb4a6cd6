package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"
)

// RuntimeContext carries cross-cutting values for one run, such as auth
// tokens. Steps only read it.
type RuntimeContext map[string]string

// Get returns the value stored under key.
func (r RuntimeContext) Get(key string) (string, bool) {
	v, ok := r[key]
	return v, ok
}

// Keys returns the sorted keys.
func (r RuntimeContext) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

func (r RuntimeContext) clone() RuntimeContext {
	if r == nil {
		return RuntimeContext{}
	}
	return maps.Clone(r)
}

// StepContext is handed to every step execution.
type StepContext struct {
	runID      string
	workflowID string
	stepID     string
	runtime    RuntimeContext
	runInput   json.RawMessage
	resumeData json.RawMessage
	resumed    bool
	logger     *zap.Logger
}

// RunID returns the id of the run the step belongs to.
func (c *StepContext) RunID() string { return c.runID }

// WorkflowID returns the id of the running workflow.
func (c *StepContext) WorkflowID() string { return c.workflowID }

// StepID returns the id of the executing step.
func (c *StepContext) StepID() string { return c.stepID }

// Runtime returns a copy of the run's runtime values.
func (c *StepContext) Runtime() RuntimeContext { return c.runtime.clone() }

// RunInput returns the input the run was started with.
func (c *StepContext) RunInput() json.RawMessage { return c.runInput }

// IsResumed reports whether this execution continues a suspended run.
func (c *StepContext) IsResumed() bool { return c.resumed }

// ResumeData returns the input supplied by the caller of Resume.
func (c *StepContext) ResumeData() json.RawMessage { return c.resumeData }

// Logger returns a logger scoped to the run and step.
func (c *StepContext) Logger() *zap.Logger { return c.logger }

// Suspend returns an error value the step must return to pause the run.
// payload becomes the partial state P; resuming with R re-executes the step
// with input merge(P, R).
//
//	if !sc.IsResumed() {
//		return Out{}, sc.Suspend(questions)
//	}
func (c *StepContext) Suspend(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode suspend payload: %w", err)
	}
	return &suspendSignal{stepID: c.stepID, payload: data}
}

// suspendSignal is the control-flow value produced by StepContext.Suspend.
type suspendSignal struct {
	stepID  string
	payload json.RawMessage
}

func (s *suspendSignal) Error() string {
	return fmt.Sprintf("step %s suspended", s.stepID)
}
