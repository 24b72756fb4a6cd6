package dsl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/storyflow/types"
	"github.com/BaSui01/storyflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type numIn struct {
	X int `json:"x"`
}

type labelOut struct {
	Label string `json:"label"`
}

func labelStep(id string) workflow.Step {
	return workflow.NewStep(id, func(_ context.Context, _ *workflow.StepContext, _ numIn) (labelOut, error) {
		return labelOut{Label: id}, nil
	})
}

func rawStep(id string, fn func(json.RawMessage) json.RawMessage) workflow.Step {
	return workflow.NewRawStep(id, nil, nil, func(_ context.Context, _ *workflow.StepContext, in json.RawMessage) (json.RawMessage, error) {
		return fn(in), nil
	})
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	identity := func(in json.RawMessage) json.RawMessage { return in }
	r := NewRegistry(
		labelStep("positive"),
		labelStep("fallback"),
		labelStep("a"),
		labelStep("b"),
		rawStep("merge", identity),
		rawStep("split", func(json.RawMessage) json.RawMessage { return json.RawMessage(`[{"x":1},{"x":2}]`) }),
		rawStep("collect", identity),
	)
	require.Error(t, r.Register(labelStep("a")))
	return r
}

const branchPipeline = `
version: "1"
id: route
description: route by sign
variables:
  limit:
    type: int
    default: 0
nodes:
  - branch:
      - when: "x > ${limit}"
        step: positive
      - step: fallback
`

func TestParser_Branch(t *testing.T) {
	p := NewParser(testRegistry(t))
	wf, err := p.Parse([]byte(branchPipeline))
	require.NoError(t, err)
	assert.Equal(t, "route", wf.ID())
	assert.Equal(t, "route by sign", wf.Description())

	exec := workflow.NewExecutor(nil)
	res, err := exec.Run(context.Background(), wf, json.RawMessage(`{"x":-1}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fallback":{"label":"fallback"}}`, string(res.Output))

	res, err = exec.Run(context.Background(), wf, json.RawMessage(`{"x":4}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"positive":{"label":"positive"}}`, string(res.Output))
}

func TestParser_ParallelAndForeach(t *testing.T) {
	p := NewParser(testRegistry(t))
	wf, err := p.Parse([]byte(`
version: "1"
id: fan
nodes:
  - parallel: [a, b]
  - then: merge
  - then: split
  - foreach: positive
    options:
      concurrency: 2
  - then: collect
`))
	require.NoError(t, err)

	infos := wf.Nodes()
	require.Len(t, infos, 5)
	assert.Equal(t, workflow.NodeParallel, infos[0].Kind)
	assert.Equal(t, workflow.NodeForeach, infos[3].Kind)

	res, err := workflow.NewExecutor(nil).Run(context.Background(), wf, json.RawMessage(`{"x":1}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"label":"positive"},{"label":"positive"}]`, string(res.Output))
}

// concurrency: 0 显式表示不限并发，覆盖执行器的默认上限
func TestParser_ForeachUnboundedConcurrency(t *testing.T) {
	const n = 4
	var entered atomic.Int32
	gate := rawStep("gate", func(in json.RawMessage) json.RawMessage {
		entered.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for entered.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if entered.Load() < n {
			return json.RawMessage(`"serialized"`)
		}
		return in
	})
	p := NewParser(NewRegistry(gate))

	wf, err := p.Parse([]byte(`
version: "1"
id: unbounded
nodes:
  - foreach: gate
    options:
      concurrency: 0
`))
	require.NoError(t, err)

	exec := workflow.NewExecutor(nil, workflow.WithForeachConcurrency(1))
	res, err := exec.Run(context.Background(), wf, json.RawMessage(`[1,2,3,4]`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3,4]`, string(res.Output))
}

func TestForeachDef_ConcurrencyDecoding(t *testing.T) {
	var doc PipelineDSL
	require.NoError(t, yaml.Unmarshal([]byte(`
nodes:
  - foreach: a
    options:
      concurrency: 0
  - foreach: b
    options: {}
`), &doc))
	require.Len(t, doc.Nodes, 2)
	require.NotNil(t, doc.Nodes[0].Options.Concurrency)
	assert.Equal(t, 0, *doc.Nodes[0].Options.Concurrency)
	assert.Nil(t, doc.Nodes[1].Options.Concurrency)
}

func TestParser_NamedCondition(t *testing.T) {
	p := NewParser(testRegistry(t))
	p.RegisterCondition("always", func(context.Context, json.RawMessage) (bool, error) { return true, nil })
	wf, err := p.Parse([]byte(`
version: "1"
id: named
nodes:
  - branch:
      - when: always
        step: a
      - step: b
`))
	require.NoError(t, err)
	res, err := workflow.NewExecutor(nil).Run(context.Background(), wf, json.RawMessage(`{"x":0}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"label":"a"}}`, string(res.Output))
}

func TestParser_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing id and version",
			yaml:    "nodes:\n  - then: a\n",
			wantErr: "id is required",
		},
		{
			name:    "no nodes",
			yaml:    "version: \"1\"\nid: x\n",
			wantErr: "at least one node",
		},
		{
			name:    "unknown step",
			yaml:    "version: \"1\"\nid: x\nnodes:\n  - then: nope\n",
			wantErr: `step "nope" is not registered`,
		},
		{
			name:    "two kinds",
			yaml:    "version: \"1\"\nid: x\nnodes:\n  - then: a\n    foreach: b\n",
			wantErr: "exactly one of",
		},
		{
			name:    "otherwise not last",
			yaml:    "version: \"1\"\nid: x\nnodes:\n  - branch:\n      - step: a\n      - when: \"x > 1\"\n        step: b\n",
			wantErr: "must be last",
		},
		{
			name:    "bad expression",
			yaml:    "version: \"1\"\nid: x\nnodes:\n  - branch:\n      - when: \"(x > 1\"\n        step: a\n",
			wantErr: "invalid when",
		},
		{
			name:    "undefined variable",
			yaml:    "version: \"1\"\nid: x\nnodes:\n  - branch:\n      - when: \"x > ${nope}\"\n        step: a\n",
			wantErr: `undefined variable "nope"`,
		},
		{
			name:    "options on then",
			yaml:    "version: \"1\"\nid: x\nnodes:\n  - then: a\n    options:\n      concurrency: 2\n",
			wantErr: "only valid on foreach",
		},
		{
			name:    "malformed yaml",
			yaml:    "nodes: [",
			wantErr: "parse YAML",
		},
	}

	p := NewParser(testRegistry(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParser_CommitErrorsSurface(t *testing.T) {
	p := NewParser(testRegistry(t))
	_, err := p.Parse([]byte(`
version: "1"
id: dangling
nodes:
  - parallel: [a, b]
`))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidGraph))
}

func TestParser_ParseDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "route.yaml"), []byte(branchPipeline), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("version: \"1\"\nid: b\nnodes: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	wfs, err := NewParser(testRegistry(t)).ParseDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yml")
	require.Len(t, wfs, 1)
	assert.Equal(t, "route", wfs[0].ID())
}
