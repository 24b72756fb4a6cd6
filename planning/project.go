package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/BaSui01/storyflow/workflow"
	"go.uber.org/zap"
)

const ProjectWorkflowID = "project-workflow"

// Project workflow step ids.
const (
	StepGetProjectIdea        = "get-project-idea"
	StepProjectManagerReview  = "project-manager-review"
	StepEngineeringLeadReview = "engineering-lead-review"
	StepSplitQuestions        = "split-questions"
	StepResearchAgent         = "research-agent"
	StepMergeResearch         = "merge-research-results"
	StepOutputSummary         = "output-summary"
)

type ProjectInput struct {
	Idea        string            `json:"idea" jsonschema:"description=The overall project idea or goal"`
	UserAnswers map[string]string `json:"userAnswers,omitempty"`
}

type ProjectReview struct {
	Idea          string            `json:"idea"`
	Tasks         []string          `json:"tasks"`
	Dependencies  []string          `json:"dependencies"`
	OpenQuestions []string          `json:"openQuestions"`
	UserAnswers   map[string]string `json:"userAnswers,omitempty"`
}

type LeadReview struct {
	Idea           string            `json:"idea"`
	OpenQuestions  []string          `json:"openQuestions"`
	UserQuestions  []string          `json:"userQuestions"`
	Answers        map[string]string `json:"answers"`
	DataSources    []string          `json:"dataSources"`
	TechnicalNotes string            `json:"technicalNotes,omitempty"`
}

// ResearchQuestion 是 foreach 研究节点的单个元素。
type ResearchQuestion struct {
	Idea           string            `json:"idea"`
	Question       string            `json:"question"`
	UserQuestions  []string          `json:"userQuestions"`
	Answers        map[string]string `json:"answers"`
	DataSources    []string          `json:"dataSources"`
	TechnicalNotes string            `json:"technicalNotes,omitempty"`
}

type ResearchFinding struct {
	ResearchQuestion
	Answer         string `json:"answer,omitempty"`
	CouldNotAnswer bool   `json:"couldNotAnswer,omitempty"`
}

type ProjectState struct {
	Idea                string            `json:"idea"`
	OpenQuestions       []string          `json:"openQuestions"`
	UserQuestions       []string          `json:"userQuestions"`
	Answers             map[string]string `json:"answers"`
	DataSources         []string          `json:"dataSources"`
	TechnicalNotes      string            `json:"technicalNotes,omitempty"`
	UnansweredQuestions []string          `json:"unAnsweredQuestions"`
}

type ProjectSummary struct {
	Summary        string            `json:"summary"`
	OpenQuestions  []string          `json:"openQuestions"`
	UserQuestions  []string          `json:"userQuestions"`
	Answers        map[string]string `json:"answers"`
	DataSources    []string          `json:"dataSources"`
	TechnicalNotes string            `json:"technicalNotes,omitempty"`
}

type (
	managerReply struct {
		Tasks         []string `json:"tasks" jsonschema:"required,description=A list of major tasks"`
		Dependencies  []string `json:"dependencies" jsonschema:"required,description=A list of dependencies"`
		OpenQuestions []string `json:"openQuestions" jsonschema:"required,description=A list of open questions"`
	}
	leadReply struct {
		Text           string   `json:"text,omitempty"`
		OpenQuestions  []string `json:"openQuestions" jsonschema:"required"`
		UserQuestions  []string `json:"userQuestions"`
		DataSources    []string `json:"dataSources" jsonschema:"required"`
		TechnicalNotes string   `json:"technicalNotes,omitempty" jsonschema:"description=Technical notes or answers to questions"`
	}
	researchReply struct {
		Answer         string `json:"answer,omitempty"`
		CouldNotAnswer bool   `json:"couldNotAnswer,omitempty"`
	}
)

func answerLines(answers map[string]string) string {
	var sb strings.Builder
	for _, q := range slices.Sorted(maps.Keys(answers)) {
		fmt.Fprintf(&sb, "- %s: %s\n", q, answers[q])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// MergeFindings folds per-question research results back into the project
// state. Answered questions join answers; unanswerable ones stay open.
func MergeFindings(findings []ResearchFinding, fallback ProjectInput) ProjectState {
	state := ProjectState{
		Idea:                fallback.Idea,
		OpenQuestions:       []string{},
		UserQuestions:       []string{},
		Answers:             make(map[string]string),
		DataSources:         []string{},
		UnansweredQuestions: []string{},
	}
	maps.Copy(state.Answers, fallback.UserAnswers)
	for _, f := range findings {
		state.Idea = f.Idea
		state.UserQuestions = nonNil(f.UserQuestions)
		state.DataSources = nonNil(f.DataSources)
		state.TechnicalNotes = f.TechnicalNotes
		maps.Copy(state.Answers, f.Answers)
		switch {
		case f.Answer != "":
			state.Answers[f.Question] = f.Answer
		case f.CouldNotAnswer:
			state.OpenQuestions = append(state.OpenQuestions, f.Question)
			state.UnansweredQuestions = append(state.UnansweredQuestions, f.Question)
		}
	}
	return state
}

// ProjectSummaryText 渲染项目摘要。
func ProjectSummaryText(s ProjectState) string {
	return fmt.Sprintf(`Project Idea: %s
Data Sources: %s
Technical Notes: %s
Open Questions: %s
User Questions: %s
Unanswered Questions: %s`,
		s.Idea,
		strings.Join(s.DataSources, ", "),
		s.TechnicalNotes,
		strings.Join(s.OpenQuestions, "\n"),
		strings.Join(s.UserQuestions, "\n"),
		strings.Join(s.UnansweredQuestions, "\n"))
}

func (c *Catalog) projectSteps() []workflow.Step {
	manager := c.agents.MustGet(AgentProjectManager)
	lead := c.agents.MustGet(AgentEngineeringLead)
	researcher := c.agents.MustGet(AgentResearch)

	return []workflow.Step{
		workflow.NewStep(StepGetProjectIdea,
			func(_ context.Context, _ *workflow.StepContext, in ProjectInput) (ProjectInput, error) {
				in.Idea = strings.TrimSpace(in.Idea)
				return in, nil
			},
			workflow.WithDescription("Collect the high-level project idea from the user.")),

		workflow.NewStep(StepProjectManagerReview,
			func(ctx context.Context, sc *workflow.StepContext, in ProjectInput) (ProjectReview, error) {
				prompt := in.Idea
				if len(in.UserAnswers) > 0 {
					prompt += "\n\nAnswers from the user:\n" + answerLines(in.UserAnswers)
				}
				reply, err := ask[managerReply](ctx, sc, manager, prompt)
				if err != nil {
					return ProjectReview{}, err
				}
				return ProjectReview{
					Idea:          in.Idea,
					Tasks:         reply.Tasks,
					Dependencies:  reply.Dependencies,
					OpenQuestions: reply.OpenQuestions,
					UserAnswers:   in.UserAnswers,
				}, nil
			},
			workflow.WithDescription("Project manager reviews the idea, breaks it into tasks and lists open questions.")),

		workflow.NewStep(StepEngineeringLeadReview,
			func(ctx context.Context, sc *workflow.StepContext, in ProjectReview) (LeadReview, error) {
				prompt := fmt.Sprintf("%s\nTasks: %s\nDependencies: %s\nOpen Questions: %s",
					in.Idea,
					orDefault(in.Tasks, "\n", "no tasks yet"),
					orDefault(in.Dependencies, "\n", "no dependencies yet"),
					orDefault(in.OpenQuestions, "\n", "no open questions yet"))
				reply, err := ask[leadReply](ctx, sc, lead, prompt)
				if err != nil {
					return LeadReview{}, err
				}
				answers := make(map[string]string, len(in.UserAnswers))
				maps.Copy(answers, in.UserAnswers)
				return LeadReview{
					Idea:           in.Idea,
					OpenQuestions:  reply.OpenQuestions,
					UserQuestions:  nonNil(reply.UserQuestions),
					Answers:        answers,
					DataSources:    reply.DataSources,
					TechnicalNotes: reply.TechnicalNotes,
				}, nil
			},
			workflow.WithDescription("Engineering lead reviews requirements, adds technical questions and data sources.")),

		workflow.NewStep(StepSplitQuestions,
			func(_ context.Context, _ *workflow.StepContext, in LeadReview) ([]ResearchQuestion, error) {
				out := make([]ResearchQuestion, 0, len(in.OpenQuestions))
				for _, q := range in.OpenQuestions {
					out = append(out, ResearchQuestion{
						Idea:           in.Idea,
						Question:       q,
						UserQuestions:  in.UserQuestions,
						Answers:        in.Answers,
						DataSources:    in.DataSources,
						TechnicalNotes: in.TechnicalNotes,
					})
				}
				return out, nil
			},
			workflow.WithDescription("Split open questions into one research item each.")),

		workflow.NewStep(StepResearchAgent,
			func(ctx context.Context, sc *workflow.StepContext, in ResearchQuestion) (ResearchFinding, error) {
				notes := in.TechnicalNotes
				if notes == "" {
					notes = "no notes yet"
				}
				prompt := fmt.Sprintf("Idea: %s\nTechnical Notes: %s\nData Sources: %s\nQuestion: %s",
					in.Idea, notes, strings.Join(in.DataSources, "\n"), in.Question)
				reply, err := ask[researchReply](ctx, sc, researcher, prompt)
				if err != nil {
					return ResearchFinding{}, err
				}
				return ResearchFinding{ResearchQuestion: in, Answer: reply.Answer, CouldNotAnswer: reply.CouldNotAnswer}, nil
			},
			workflow.WithDescription("Research a question and summarize the findings.")),

		workflow.NewStep(StepMergeResearch,
			func(_ context.Context, sc *workflow.StepContext, in []ResearchFinding) (ProjectState, error) {
				var fallback ProjectInput
				if raw := sc.RunInput(); len(raw) > 0 {
					if err := json.Unmarshal(raw, &fallback); err != nil {
						sc.Logger().Warn("run input is not a project input", zap.Error(err))
					}
				}
				return MergeFindings(in, fallback), nil
			},
			workflow.WithDescription("Merge research results back into the project state.")),

		workflow.NewStep(StepOutputSummary,
			func(_ context.Context, _ *workflow.StepContext, in ProjectState) (ProjectSummary, error) {
				return ProjectSummary{
					Summary:        ProjectSummaryText(in),
					OpenQuestions:  in.OpenQuestions,
					UserQuestions:  in.UserQuestions,
					Answers:        in.Answers,
					DataSources:    in.DataSources,
					TechnicalNotes: in.TechnicalNotes,
				}, nil
			},
			workflow.WithDescription("Output a summary with resolved info, open questions and data sources.")),
	}
}

func (c *Catalog) buildProject() (*workflow.Workflow, error) {
	return workflow.New(ProjectWorkflowID,
		workflow.WithWorkflowDescription("Refine a project idea through project manager, engineering lead and research reviews.")).
		Then(c.lookup(StepGetProjectIdea)).
		Then(c.lookup(StepProjectManagerReview)).
		Then(c.lookup(StepEngineeringLeadReview)).
		Then(c.lookup(StepSplitQuestions)).
		Foreach(c.lookup(StepResearchAgent)).
		Then(c.lookup(StepMergeResearch)).
		Then(c.lookup(StepOutputSummary)).
		Commit()
}
