// Package evaluation 提供以 LLM 作为评审、检查回答是否编造上下文之外事实的工具。
package evaluation

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
)

const judgeInstructions = `You are a strict fact checker. For every context statement you are given, decide
whether the answer contradicts it. A verdict is "yes" only when the answer states something that
conflicts with the statement; missing information is not a contradiction. Then summarise in one or
two sentences why the answer does or does not hallucinate.`

var promptTemplate = template.Must(template.New("hallucination").Parse(`## Question
{{.Question}}

## Answer
{{.Answer}}

## Context statements
{{range $i, $s := .Context}}{{$i}}. {{$s}}
{{end}}
Return one verdict per context statement, in order.`))

// Verdict 是对单条上下文陈述的判断。
type Verdict struct {
	Statement string `json:"statement"`
	Verdict   string `json:"verdict" jsonschema:"enum=yes,no"`
	Reason    string `json:"reason"`
}

type judgement struct {
	Verdicts []Verdict `json:"verdicts" jsonschema:"required"`
	Reason   string    `json:"reason"`
}

type Input struct {
	Answer   string `json:"answer" jsonschema:"description=The answer to check for hallucinations"`
	Question string `json:"question" jsonschema:"description=The question that was asked"`
	// Context 覆盖构造时给定的上下文
	Context []string `json:"context,omitempty"`
}

type Output struct {
	// Score 是与上下文矛盾的陈述所占比例，越低越好
	Score       float64   `json:"score"`
	Explanation string    `json:"explanation"`
	Verdicts    []Verdict `json:"verdicts,omitempty"`
}

// Metric 评估回答的幻觉程度。
type Metric struct {
	judge   *agent.Agent
	context []string
	schema  *structured.JSONSchema
	logger  *zap.Logger
}

// NewMetric creates the metric. contextDocs is the default context each
// answer is checked against.
func NewMetric(provider llm.Provider, model string, contextDocs []string, logger *zap.Logger) (*Metric, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	judge, err := agent.New(agent.Config{
		Name:         "Hallucination Judge",
		Instructions: judgeInstructions,
		Model:        model,
	}, provider, agent.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Metric{
		judge:   judge,
		context: contextDocs,
		schema:  structured.MustSchemaFor[judgement](),
		logger:  logger.With(zap.String("component", "hallucination_metric")),
	}, nil
}

// Measure 返回 0..1 的分数。没有回答时分数为 1；没有上下文时无从矛盾，分数为 0。
func (m *Metric) Measure(ctx context.Context, in Input) (*Output, error) {
	if strings.TrimSpace(in.Answer) == "" {
		return &Output{Score: 1, Explanation: "No answer provided."}, nil
	}
	docs := in.Context
	if len(docs) == 0 {
		docs = m.context
	}
	if len(docs) == 0 {
		return &Output{Score: 0, Explanation: "No context to check the answer against."}, nil
	}

	var prompt bytes.Buffer
	if err := promptTemplate.Execute(&prompt, map[string]any{
		"Question": in.Question,
		"Answer":   in.Answer,
		"Context":  docs,
	}); err != nil {
		return nil, types.NewError(types.ErrInternalError, "render judge prompt").WithCause(err)
	}

	var j judgement
	if _, err := m.judge.Generate(ctx, prompt.String(), m.schema, &j, agent.GenerateOptions{Temperature: 0}); err != nil {
		return nil, types.NewError(types.ErrToolFailed, "hallucination judge failed").WithCause(err)
	}

	contradicted := 0
	for _, v := range j.Verdicts {
		if strings.EqualFold(v.Verdict, "yes") {
			contradicted++
		}
	}
	total := max(len(j.Verdicts), len(docs))
	out := &Output{
		Score:       float64(contradicted) / float64(total),
		Explanation: j.Reason,
		Verdicts:    j.Verdicts,
	}
	m.logger.Debug("hallucination measured",
		zap.Int("statements", total),
		zap.Int("contradicted", contradicted),
		zap.Float64("score", out.Score))
	return out, nil
}

// Tools returns the hallucination-metric tool.
func (m *Metric) Tools() []tools.Tool {
	return []tools.Tool{
		tools.New("hallucination-metric",
			"Evaluates if a given answer hallucinates facts not present in the provided context.",
			m.Measure),
	}
}
