package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/workflow"
	"go.uber.org/zap"
)

// ask runs a structured generation on a and decodes the reply into T.
func ask[T any](ctx context.Context, sc *workflow.StepContext, a *agent.Agent, prompt string) (T, error) {
	var out T
	schema, err := structured.SchemaFor[T]()
	if err != nil {
		return out, fmt.Errorf("reply schema for %s: %w", a.Name(), err)
	}
	resp, err := a.Generate(ctx, prompt, schema, &out, agent.GenerateOptions{SessionID: sessionID(sc)})
	if err != nil {
		return out, err
	}
	sc.Logger().Debug("agent replied",
		zap.String("agent", a.Name()),
		zap.Int("tool_calls", resp.ToolCalls),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return out, nil
}

func sessionID(sc *workflow.StepContext) string {
	if s, ok := sc.Runtime().Get(RuntimeSessionKey); ok && s != "" {
		return s
	}
	return sc.RunID()
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func orDefault(items []string, sep, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, sep)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
