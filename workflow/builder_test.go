package workflow

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/types"
)

func TestBuilder_CommitErrors(t *testing.T) {
	var calls atomic.Int32
	tests := []struct {
		name    string
		build   func() *Builder
		wantErr string
	}{
		{
			name:    "empty workflow",
			build:   func() *Builder { return New("empty") },
			wantErr: "no steps",
		},
		{
			name:    "missing id",
			build:   func() *Builder { return New("").Then(passStep("a")) },
			wantErr: "workflow id is required",
		},
		{
			name:    "duplicate ids",
			build:   func() *Builder { return New("dup").Then(passStep("a")).Then(passStep("a")) },
			wantErr: `duplicate step id "a"`,
		},
		{
			name: "duplicate id across parallel",
			build: func() *Builder {
				return New("dup").Then(passStep("a")).Parallel(passStep("a"), passStep("b")).Then(passStep("m"))
			},
			wantErr: `duplicate step id "a"`,
		},
		{
			name:    "parallel without merge",
			build:   func() *Builder { return New("fan").Parallel(passStep("a"), passStep("b")) },
			wantErr: "must be followed by a single merge step",
		},
		{
			name: "parallel followed by foreach",
			build: func() *Builder {
				return New("fan").Parallel(passStep("a"), passStep("b")).Foreach(passStep("each"))
			},
			wantErr: "must be followed by a single merge step",
		},
		{
			name:    "empty parallel",
			build:   func() *Builder { return New("fan").Parallel() },
			wantErr: "at least one step",
		},
		{
			name:    "nil step",
			build:   func() *Builder { return New("nil").Then(nil) },
			wantErr: "step is nil",
		},
		{
			name:    "foreach over object",
			build:   func() *Builder { return New("each").Then(doubleStep("double")).Foreach(passStep("each")) },
			wantErr: "foreach needs an array input",
		},
		{
			name:    "schema mismatch",
			build:   func() *Builder { return New("mismatch").Then(doubleStep("double")).Then(doubleStep("again")) },
			wantErr: "double -> again",
		},
		{
			name: "otherwise not last",
			build: func() *Builder {
				return New("branch").Branch(Otherwise(countingStep("a", &calls)), When(countingStep("b", &calls), nil))
			},
			wantErr: "must be last",
		},
		{
			name: "declared output mismatch",
			build: func() *Builder {
				return New("out", WithWorkflowOutput(structured.NewStringSchema())).Then(doubleStep("double"))
			},
			wantErr: "workflow output",
		},
		{
			name: "closed consumer",
			build: func() *Builder {
				prod := NewRawStep("prod", nil, structured.NewObjectSchema().
					AddProperty("y", structured.NewStringSchema()).
					AddProperty("extra", structured.NewStringSchema()).
					AddRequired("y", "extra"), echoRaw)
				cons := NewRawStep("cons", structured.NewObjectSchema().
					AddProperty("y", structured.NewStringSchema()).
					AddRequired("y").
					WithAdditionalProperties(false), nil, echoRaw)
				return New("closed").Then(prod).Then(cons)
			},
			wantErr: "extra: field is not accepted",
		},
		{
			name: "unsupported typed step",
			build: func() *Builder {
				return New("bad").Then(NewStep("chan", func(context.Context, *StepContext, chan int) (int, error) { return 0, nil }))
			},
			wantErr: "input schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := tt.build().Commit()
			require.Error(t, err)
			assert.Nil(t, wf)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidGraph))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuilder_CommitFreezes(t *testing.T) {
	b := New("frozen").Then(passStep("a"))
	_, err := b.Commit()
	require.NoError(t, err)

	b.Then(passStep("b"))
	_, err = b.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already committed")
}

func TestBuilder_DerivedSchemas(t *testing.T) {
	wf := mustCommit(t, New("schemas", WithWorkflowDescription("demo")).
		Then(doubleStep("double")).
		Then(addOneStep("addOne")))

	assert.Equal(t, "schemas", wf.ID())
	assert.Equal(t, "demo", wf.Description())
	assert.True(t, wf.InputSchema().IsRequired("x"))
	assert.True(t, wf.OutputSchema().IsRequired("z"))
	assert.Equal(t, []string{"double", "addOne"}, wf.StepIDs())
}

func TestBuilder_ParallelOutputSchema(t *testing.T) {
	var calls atomic.Int32
	wf := mustCommit(t, New("fan").
		Parallel(countingStep("a", &calls), countingStep("b", &calls)).
		Then(passStep("merge")))

	nodes := wf.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, NodeParallel, nodes[0].Kind)
	assert.Equal(t, []string{"a", "b"}, nodes[0].Steps)

	out := wf.nodes[0].outputSchema()
	assert.ElementsMatch(t, []string{"a", "b"}, out.Required)
	assert.NoError(t, structured.NewValidator().Validate(
		json.RawMessage(`{"a":{"label":"a"},"b":{"label":"b"}}`), out))
	assert.Error(t, structured.NewValidator().Validate(
		json.RawMessage(`{"a":{"label":"a"}}`), out))
}

type personasIn struct {
	Personas *labelOut `json:"personas,omitempty"`
	Needs    *labelOut `json:"needs,omitempty"`
}

func TestBuilder_BranchFeedsUnwrapStep(t *testing.T) {
	var calls atomic.Int32
	unwrap := NewStep("unwrap", func(_ context.Context, _ *StepContext, in personasIn) (labelOut, error) {
		if in.Personas != nil {
			return *in.Personas, nil
		}
		return *in.Needs, nil
	})
	_, err := New("unwrap").
		Branch(
			When(countingStep("needs", &calls), Match(func(in xIn) bool { return in.X > 0 })),
			Otherwise(countingStep("personas", &calls)),
		).
		Then(unwrap).
		Commit()
	require.NoError(t, err)

	strict := NewStep("strict", func(_ context.Context, _ *StepContext, in struct {
		Personas labelOut `json:"personas"`
	}) (labelOut, error) {
		return in.Personas, nil
	})
	_, err = New("strict").
		Branch(
			When(countingStep("needs", &calls), Match(func(in xIn) bool { return in.X > 0 })),
			Otherwise(countingStep("personas", &calls)),
		).
		Then(strict).
		Commit()
	require.Error(t, err, "a required key of only one case is not guaranteed")
}

func echoRaw(_ context.Context, _ *StepContext, in json.RawMessage) (json.RawMessage, error) {
	return in, nil
}
