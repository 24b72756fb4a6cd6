package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/internal/ctxkeys"
	"github.com/BaSui01/storyflow/types"
)

const (
	// DefaultForeachConcurrency bounds foreach fan-out when not configured.
	DefaultForeachConcurrency = 8
	// DefaultSuspendTTL is how long a suspended run can be resumed.
	DefaultSuspendTTL = 24 * time.Hour
)

// Observer receives run and step outcomes, typically for metrics.
type Observer interface {
	RunFinished(workflowID, status string, duration time.Duration)
	StepFinished(workflowID, stepID, status string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) RunFinished(string, string, time.Duration)          {}
func (noopObserver) StepFinished(string, string, string, time.Duration) {}

// Observers fans outcomes out to every non-nil observer.
func Observers(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) RunFinished(workflowID, status string, d time.Duration) {
	for _, o := range m {
		o.RunFinished(workflowID, status, d)
	}
}

func (m multiObserver) StepFinished(workflowID, stepID, status string, d time.Duration) {
	for _, o := range m {
		o.StepFinished(workflowID, stepID, status, d)
	}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithForeachConcurrency sets the default foreach bound. n <= 0 means unbounded.
func WithForeachConcurrency(n int) ExecutorOption {
	return func(e *Executor) { e.foreachLimit = n }
}

// WithParallelConcurrency bounds parallel branches. n <= 0 means unbounded.
func WithParallelConcurrency(n int) ExecutorOption {
	return func(e *Executor) { e.parallelLimit = n }
}

// WithSuspendTTL sets how long suspended runs stay resumable. ttl <= 0 keeps them forever.
func WithSuspendTTL(ttl time.Duration) ExecutorOption {
	return func(e *Executor) { e.suspendTTL = ttl }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithHistory persists run records.
func WithHistory(h HistoryStore) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

// WithEventSink publishes run events.
func WithEventSink(s EventSink) ExecutorOption {
	return func(e *Executor) { e.sink = s }
}

// Executor runs committed workflows. One Executor serves any number of
// concurrent runs.
type Executor struct {
	store         SuspendStore
	logger        *zap.Logger
	foreachLimit  int
	parallelLimit int
	suspendTTL    time.Duration
	observer      Observer
	tracer        trace.Tracer
	history       HistoryStore
	sink          EventSink
	validator     *structured.DefaultValidator
	now           func() time.Time
}

// NewExecutor creates an executor. A nil store keeps suspended runs in memory.
func NewExecutor(store SuspendStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:        store,
		foreachLimit: DefaultForeachConcurrency,
		suspendTTL:   DefaultSuspendTTL,
		validator:    structured.NewValidator(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "workflow_executor"))
	if e.store == nil {
		e.store = NewMemorySuspendStore(e.logger)
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("storyflow/workflow")
	}
	return e
}

// RunResult is the outcome of Run or Resume.
type RunResult struct {
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	Status     RunStatus       `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Suspended  *SuspendedState `json:"suspended,omitempty"`
	Steps      []StepRecord    `json:"steps"`
}

type runState struct {
	runID     string
	wf        *Workflow
	runtime   RuntimeContext
	input     json.RawMessage
	startedAt time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	steps []StepRecord
}

func (st *runState) record(r StepRecord) {
	st.mu.Lock()
	st.steps = append(st.steps, r)
	st.mu.Unlock()
}

func (st *runState) snapshot() []StepRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]StepRecord(nil), st.steps...)
}

type resumeState struct {
	pending   map[string]PendingStep
	completed map[string]json.RawMessage
	data      json.RawMessage
}

type nodeSuspension struct {
	pending   map[string]PendingStep
	completed map[string]json.RawMessage
}

// Run executes wf from the start. Suspension is not an error: the result has
// Status RunStatusSuspended and carries the SuspendedState. On failure the
// result is returned with Status RunStatusFailed alongside the error.
func (e *Executor) Run(ctx context.Context, wf *Workflow, input json.RawMessage, runtime RuntimeContext) (*RunResult, error) {
	if wf == nil {
		return nil, types.NewError(types.ErrWorkflowNotCommitted, "workflow is nil")
	}
	if isEmptyJSON(input) {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return nil, types.NewError(types.ErrInvalidRequest, "run input is not valid JSON")
	}

	st := e.newRunState(wf, uuid.NewString(), input, runtime.clone(), e.now(), nil)
	ctx = ctxkeys.WithRunID(ctx, st.runID)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID()),
		attribute.String("run.id", st.runID),
	))
	defer span.End()

	st.logger.Info("starting workflow run")
	e.emit(st, EventRunStarted, "", "", input)
	e.saveHistory(ctx, st, RunStatusRunning, nil, "")

	return e.execute(ctx, span, st, 0, input, nil)
}

// Resume continues a suspended run. Every pending step re-runs with input
// merge(P, resumeInput) where P is the payload it suspended with.
func (e *Executor) Resume(ctx context.Context, wf *Workflow, runID string, resumeInput json.RawMessage) (*RunResult, error) {
	if wf == nil {
		return nil, types.NewError(types.ErrWorkflowNotCommitted, "workflow is nil")
	}
	if !isEmptyJSON(resumeInput) && !json.Valid(resumeInput) {
		return nil, types.NewError(types.ErrInvalidRequest, "resume input is not valid JSON")
	}

	// 先校验再取出，校验失败时运行保持挂起，可用修正后的输入再次恢复
	peeked, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, storeError(runID, err)
	}
	if err := e.checkResume(wf, peeked, resumeInput); err != nil {
		return nil, err
	}

	state, err := e.store.Take(ctx, runID)
	if err != nil {
		return nil, storeError(runID, err)
	}

	st := e.newRunState(wf, state.RunID, state.Input, state.Runtime, state.StartedAt, state.Steps)
	ctx = ctxkeys.WithRunID(ctx, st.runID)
	ctx, span := e.tracer.Start(ctx, "workflow.resume", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID()),
		attribute.String("run.id", st.runID),
	))
	defer span.End()

	st.logger.Info("resuming workflow run", zap.Int("cursor", state.Cursor), zap.Int("pending", len(state.Pending)))
	e.emit(st, EventRunResumed, "", "", resumeInput)

	resume := &resumeState{pending: state.Pending, completed: state.Completed, data: resumeInput}
	return e.execute(ctx, span, st, state.Cursor, state.NodeInput, resume)
}

// checkResume verifies that state can continue on wf with resumeInput:
// same workflow, a cursor inside the graph, every pending step still present
// and every merged input accepted by its step.
func (e *Executor) checkResume(wf *Workflow, state *SuspendedState, resumeInput json.RawMessage) error {
	if state.WorkflowID != wf.ID() {
		return types.Errorf(types.ErrInvalidRequest, "run %s belongs to workflow %s, not %s", state.RunID, state.WorkflowID, wf.ID())
	}
	if state.Cursor < 0 || state.Cursor >= len(wf.nodes) {
		return types.Errorf(types.ErrInvalidRequest, "run %s has cursor %d outside workflow %s", state.RunID, state.Cursor, wf.ID())
	}
	n := wf.nodes[state.Cursor]
	for key, p := range state.Pending {
		step := n.pendingStep(key)
		if step == nil {
			return types.Errorf(types.ErrInvalidRequest, "run %s waits on %s, which %s no longer has", state.RunID, key, n.name())
		}
		merged, err := MergeJSON(p.Payload, resumeInput)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, "cannot merge resume input").WithStep(step.ID()).WithCause(err)
		}
		if err := e.validator.Validate(merged, step.InputSchema()); err != nil {
			return newShapeError(step.ID(), "input", err)
		}
	}
	return nil
}

// Inspect returns a suspended run without consuming it.
func (e *Executor) Inspect(ctx context.Context, runID string) (*SuspendedState, error) {
	state, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, storeError(runID, err)
	}
	return state, nil
}

func storeError(runID string, err error) error {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return types.Errorf(types.ErrRunNotFound, "run %s is not suspended or does not exist", runID).WithCause(err)
	case errors.Is(err, ErrRunExpired):
		return types.Errorf(types.ErrRunExpired, "run %s expired", runID).WithCause(err)
	default:
		return types.Errorf(types.ErrInternalError, "load run %s", runID).WithCause(err)
	}
}

func (e *Executor) newRunState(wf *Workflow, runID string, input json.RawMessage, runtime RuntimeContext, startedAt time.Time, steps []StepRecord) *runState {
	return &runState{
		runID:     runID,
		wf:        wf,
		runtime:   runtime,
		input:     input,
		startedAt: startedAt,
		steps:     steps,
		logger: e.logger.With(
			zap.String("run_id", runID),
			zap.String("workflow", wf.ID()),
		),
	}
}

func (e *Executor) execute(ctx context.Context, span trace.Span, st *runState, cursor int, payload json.RawMessage, resume *resumeState) (*RunResult, error) {
	for i := cursor; i < len(st.wf.nodes); i++ {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, span, st, fmt.Errorf("run cancelled: %w", err))
		}

		n := st.wf.nodes[i]
		out, susp, err := e.runNode(ctx, st, n, payload, resume)
		resume = nil
		if err != nil {
			return e.fail(ctx, span, st, err)
		}
		if susp != nil {
			return e.suspend(ctx, st, i, payload, susp)
		}
		payload = out
	}
	return e.complete(ctx, st, payload)
}

func (e *Executor) runNode(ctx context.Context, st *runState, n *node, input json.RawMessage, resume *resumeState) (json.RawMessage, *nodeSuspension, error) {
	switch n.kind {
	case NodeThen:
		step := n.steps[0]
		out, pend, err := e.runChild(ctx, st, step, input, step.ID(), resume)
		if err != nil || pend == nil {
			return out, nil, err
		}
		return nil, &nodeSuspension{pending: map[string]PendingStep{step.ID(): *pend}}, nil
	case NodeParallel:
		return e.runParallel(ctx, st, n, input, resume)
	case NodeForeach:
		return e.runForeach(ctx, st, n, input, resume)
	case NodeBranch:
		return e.runBranch(ctx, st, n, input, resume)
	default:
		return nil, nil, types.Errorf(types.ErrInternalError, "unknown node kind %s", n.kind)
	}
}

func (e *Executor) runParallel(ctx context.Context, st *runState, n *node, input json.RawMessage, resume *resumeState) (json.RawMessage, *nodeSuspension, error) {
	g, gctx := errgroup.WithContext(ctx)
	if e.parallelLimit > 0 {
		g.SetLimit(e.parallelLimit)
	}

	var mu sync.Mutex
	outputs := make(map[string]json.RawMessage, len(n.steps))
	pending := make(map[string]PendingStep)
	for _, step := range n.steps {
		g.Go(func() error {
			out, pend, err := e.runChild(gctx, st, step, input, step.ID(), resume)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if pend != nil {
				pending[step.ID()] = *pend
			} else {
				outputs[step.ID()] = out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if len(pending) > 0 {
		return nil, &nodeSuspension{pending: pending, completed: outputs}, nil
	}

	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode parallel output: %w", err)
	}
	return data, nil, nil
}

func (e *Executor) runForeach(ctx context.Context, st *runState, n *node, input json.RawMessage, resume *resumeState) (json.RawMessage, *nodeSuspension, error) {
	step := n.steps[0]
	var items []json.RawMessage
	if !bytes.HasPrefix(bytes.TrimSpace(input), []byte("[")) || json.Unmarshal(input, &items) != nil {
		return nil, nil, types.NewError(types.ErrInvalidShape, "foreach input must be a JSON array").WithStep(step.ID())
	}

	limit := e.foreachLimit
	if n.concurrencySet {
		limit = n.concurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mu sync.Mutex
	outputs := make([]json.RawMessage, len(items))
	pending := make(map[string]PendingStep)
	for i, item := range items {
		key := strconv.Itoa(i)
		g.Go(func() error {
			out, pend, err := e.runChild(gctx, st, step, item, key, resume)
			if err != nil {
				return err
			}
			if pend != nil {
				mu.Lock()
				pending[key] = *pend
				mu.Unlock()
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if len(pending) > 0 {
		completed := make(map[string]json.RawMessage, len(items)-len(pending))
		for i, out := range outputs {
			if out != nil {
				completed[strconv.Itoa(i)] = out
			}
		}
		return nil, &nodeSuspension{pending: pending, completed: completed}, nil
	}

	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode foreach output: %w", err)
	}
	return data, nil, nil
}

func (e *Executor) runBranch(ctx context.Context, st *runState, n *node, input json.RawMessage, resume *resumeState) (json.RawMessage, *nodeSuspension, error) {
	var selected Step
	if resume != nil {
		for _, c := range n.cases {
			if _, ok := resume.pending[c.step.ID()]; ok {
				selected = c.step
				break
			}
		}
		if selected == nil {
			return nil, nil, types.Errorf(types.ErrInternalError, "suspended run has no pending case in %s", n.name())
		}
	} else {
		for _, c := range n.cases {
			ok, err := c.matches(ctx, input)
			if err != nil {
				return nil, nil, types.NewError(types.ErrStepFailed, "branch condition failed").WithStep(c.step.ID()).WithCause(err)
			}
			if ok {
				selected = c.step
				break
			}
		}
		if selected == nil {
			return nil, nil, types.Errorf(types.ErrNoBranchMatched, "no condition of %s matched", n.name())
		}
		st.logger.Debug("branch case selected", zap.String("step_id", selected.ID()))
	}

	out, pend, err := e.runChild(ctx, st, selected, input, selected.ID(), resume)
	if err != nil {
		return nil, nil, err
	}
	if pend != nil {
		return nil, &nodeSuspension{pending: map[string]PendingStep{selected.ID(): *pend}}, nil
	}
	data, err := json.Marshal(map[string]json.RawMessage{selected.ID(): out})
	if err != nil {
		return nil, nil, fmt.Errorf("encode branch output: %w", err)
	}
	return data, nil, nil
}

// runChild executes one step of a node, or replays its saved outcome when resuming.
func (e *Executor) runChild(ctx context.Context, st *runState, step Step, input json.RawMessage, key string, resume *resumeState) (json.RawMessage, *PendingStep, error) {
	var resumeData json.RawMessage
	resumed := false
	if resume != nil {
		if out, ok := resume.completed[key]; ok {
			return out, nil, nil
		}
		p, ok := resume.pending[key]
		if !ok {
			return nil, nil, types.Errorf(types.ErrInternalError, "suspended run has no state for %s", key).WithStep(step.ID())
		}
		merged, err := MergeJSON(p.Payload, resume.data)
		if err != nil {
			return nil, nil, types.NewError(types.ErrInvalidRequest, "cannot merge resume input").WithStep(step.ID()).WithCause(err)
		}
		input, resumeData, resumed = merged, resume.data, true
	}

	out, payload, err := e.runStep(ctx, st, step, input, resumed, resumeData)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		return nil, &PendingStep{StepID: step.ID(), Input: input, Payload: payload}, nil
	}
	return out, nil, nil
}

// runStep validates input, executes the step and validates its output.
func (e *Executor) runStep(ctx context.Context, st *runState, step Step, input json.RawMessage, resumed bool, resumeData json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	stepID := step.ID()
	logger := st.logger.With(zap.String("step_id", stepID))
	start := e.now()
	rec := StepRecord{StepID: stepID, StartedAt: start, Resumed: resumed}

	if err := e.validator.Validate(input, step.InputSchema()); err != nil {
		shapeErr := newShapeError(stepID, "input", err)
		e.finishStep(st, logger, &rec, StepStatusFailed, shapeErr)
		return nil, nil, shapeErr
	}

	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.Bool("step.resumed", resumed),
	))
	defer span.End()

	logger.Debug("executing step")
	e.emit(st, EventStepStarted, stepID, "", nil)

	sc := &StepContext{
		runID:      st.runID,
		workflowID: st.wf.ID(),
		stepID:     stepID,
		runtime:    st.runtime,
		runInput:   st.input,
		resumeData: resumeData,
		resumed:    resumed,
		logger:     logger,
	}
	out, err := step.Execute(ctx, sc, input)

	var sig *suspendSignal
	if errors.As(err, &sig) {
		e.finishStep(st, logger, &rec, StepStatusSuspended, nil)
		return nil, sig.payload, nil
	}
	if err != nil {
		stepErr := types.NewError(types.ErrStepFailed, "step execution failed").
			WithStep(stepID).
			WithRetryable(types.IsRetryable(err)).
			WithCause(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.finishStep(st, logger, &rec, StepStatusFailed, stepErr)
		return nil, nil, stepErr
	}

	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	if err := e.validator.Validate(out, step.OutputSchema()); err != nil {
		shapeErr := newShapeError(stepID, "output", err)
		span.SetStatus(codes.Error, shapeErr.Error())
		e.finishStep(st, logger, &rec, StepStatusFailed, shapeErr)
		return nil, nil, shapeErr
	}

	e.finishStep(st, logger, &rec, StepStatusCompleted, nil)
	return out, nil, nil
}

func (e *Executor) finishStep(st *runState, logger *zap.Logger, rec *StepRecord, status StepStatus, err error) {
	rec.Duration = e.now().Sub(rec.StartedAt)
	rec.Status = status
	if err != nil {
		rec.Error = err.Error()
	}
	st.record(*rec)
	e.observer.StepFinished(st.wf.ID(), rec.StepID, string(status), rec.Duration)

	switch status {
	case StepStatusFailed:
		logger.Error("step failed", zap.Duration("duration", rec.Duration), zap.Error(err))
		e.emit(st, EventStepFailed, rec.StepID, rec.Error, nil)
	case StepStatusSuspended:
		logger.Info("step suspended", zap.Duration("duration", rec.Duration))
	default:
		logger.Debug("step completed", zap.Duration("duration", rec.Duration))
		e.emit(st, EventStepCompleted, rec.StepID, "", nil)
	}
}

func (e *Executor) suspend(ctx context.Context, st *runState, cursor int, nodeInput json.RawMessage, susp *nodeSuspension) (*RunResult, error) {
	keys := make([]string, 0, len(susp.pending))
	for k := range susp.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return pendingLess(keys[i], keys[j]) })
	first := susp.pending[keys[0]]

	now := e.now()
	state := &SuspendedState{
		RunID:      st.runID,
		WorkflowID: st.wf.ID(),
		StepID:     first.StepID,
		Payload:    first.Payload,
		Cursor:     cursor,
		NodeInput:  nodeInput,
		Pending:    susp.pending,
		Completed:  susp.completed,
		Runtime:    st.runtime,
		Steps:      st.snapshot(),
		Input:      st.input,
		StartedAt:  st.startedAt,
		CreatedAt:  now,
	}
	if e.suspendTTL > 0 {
		state.ExpiresAt = now.Add(e.suspendTTL)
	}

	if err := e.store.Save(ctx, state); err != nil {
		st.logger.Error("failed to persist suspended run", zap.Error(err))
		return e.fail(ctx, trace.SpanFromContext(ctx), st, types.NewError(types.ErrInternalError, "persist suspended run").WithCause(err))
	}

	st.logger.Info("workflow run suspended",
		zap.String("step_id", first.StepID),
		zap.Int("pending", len(susp.pending)),
		zap.Time("expires_at", state.ExpiresAt),
	)
	e.emit(st, EventRunSuspended, first.StepID, "", first.Payload)
	e.saveHistory(ctx, st, RunStatusSuspended, nil, "")
	e.observer.RunFinished(st.wf.ID(), string(RunStatusSuspended), now.Sub(st.startedAt))

	return &RunResult{
		RunID:      st.runID,
		WorkflowID: st.wf.ID(),
		Status:     RunStatusSuspended,
		Suspended:  state,
		Steps:      state.Steps,
	}, nil
}

// pendingLess orders foreach indexes numerically and step ids lexically.
func pendingLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return strings.Compare(a, b) < 0
}

func (e *Executor) complete(ctx context.Context, st *runState, output json.RawMessage) (*RunResult, error) {
	steps := st.snapshot()
	st.logger.Info("workflow run completed", zap.Int("steps", len(steps)))
	e.emit(st, EventRunCompleted, "", "", output)
	e.saveHistory(ctx, st, RunStatusCompleted, output, "")
	e.observer.RunFinished(st.wf.ID(), string(RunStatusCompleted), e.now().Sub(st.startedAt))

	return &RunResult{
		RunID:      st.runID,
		WorkflowID: st.wf.ID(),
		Status:     RunStatusCompleted,
		Output:     output,
		Steps:      steps,
	}, nil
}

func (e *Executor) fail(ctx context.Context, span trace.Span, st *runState, err error) (*RunResult, error) {
	st.logger.Error("workflow run failed", zap.Error(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.emit(st, EventRunFailed, "", err.Error(), nil)
	e.saveHistory(context.WithoutCancel(ctx), st, RunStatusFailed, nil, err.Error())
	e.observer.RunFinished(st.wf.ID(), string(RunStatusFailed), e.now().Sub(st.startedAt))

	return &RunResult{
		RunID:      st.runID,
		WorkflowID: st.wf.ID(),
		Status:     RunStatusFailed,
		Steps:      st.snapshot(),
	}, err
}

func (e *Executor) saveHistory(ctx context.Context, st *runState, status RunStatus, output json.RawMessage, errMsg string) {
	if e.history == nil {
		return
	}
	rec := &RunRecord{
		RunID:      st.runID,
		WorkflowID: st.wf.ID(),
		Status:     status,
		Input:      st.input,
		Output:     output,
		Error:      errMsg,
		Steps:      st.snapshot(),
		StartedAt:  st.startedAt,
	}
	if status != RunStatusRunning {
		rec.FinishedAt = e.now()
	}
	if err := e.history.SaveRun(ctx, rec); err != nil {
		st.logger.Warn("failed to save run history", zap.Error(err))
	}
}

func (e *Executor) emit(st *runState, typ EventType, stepID, errMsg string, payload json.RawMessage) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(Event{
		Type:       typ,
		RunID:      st.runID,
		WorkflowID: st.wf.ID(),
		StepID:     stepID,
		Error:      errMsg,
		Payload:    payload,
		Time:       e.now(),
	})
}
