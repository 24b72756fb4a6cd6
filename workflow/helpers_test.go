package workflow

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type xIn struct {
	X int `json:"x"`
}

type yOut struct {
	Y int `json:"y"`
}

type zOut struct {
	Z int `json:"z"`
}

type labelOut struct {
	Label string `json:"label"`
}

func doubleStep(id string) Step {
	return NewStep(id, func(_ context.Context, _ *StepContext, in xIn) (yOut, error) {
		return yOut{Y: in.X * 2}, nil
	})
}

func addOneStep(id string) Step {
	return NewStep(id, func(_ context.Context, _ *StepContext, in yOut) (zOut, error) {
		return zOut{Z: in.Y + 1}, nil
	})
}

// countingStep returns a step that labels its output with its id and counts calls.
func countingStep(id string, calls *atomic.Int32) Step {
	return NewStep(id, func(_ context.Context, _ *StepContext, _ xIn) (labelOut, error) {
		calls.Add(1)
		return labelOut{Label: id}, nil
	})
}

// passStep forwards any JSON unchanged.
func passStep(id string) Step {
	return NewRawStep(id, nil, nil, func(_ context.Context, _ *StepContext, in json.RawMessage) (json.RawMessage, error) {
		return in, nil
	})
}

func mustCommit(t *testing.T, b *Builder) *Workflow {
	t.Helper()
	wf, err := b.Commit()
	require.NoError(t, err)
	return wf
}

func mustJSON(t testing.TB, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
