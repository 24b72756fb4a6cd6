package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/workflow"
)

const EpicMappingWorkflowID = "epic-mapping-workflow"

// Epic mapping step ids; the parallel sections are rendered in this order.
const (
	StepEpicPersonas       = "personas"
	StepEpicResearch       = "research"
	StepEpicUsability      = "usability"
	StepEpicImplementation = "implementation"
	StepEpicOnboarding     = "onboarding"
	StepEpicLogging        = "logging"
	StepEpicIntegration    = "integration"
	StepEpicTesting        = "testing"
	StepEpicGather         = "gather"
)

var epicSections = []string{
	StepEpicPersonas, StepEpicResearch, StepEpicUsability, StepEpicImplementation,
	StepEpicOnboarding, StepEpicLogging, StepEpicIntegration, StepEpicTesting,
}

type EpicInput struct {
	EpicStatement string `json:"epicStatement" jsonschema:"description=The epic or goal statement to map."`
}

// PlanSection 是史诗映射中的一个章节。
type PlanSection struct {
	Description         string   `json:"description"`
	GherkinRequirements []string `json:"gherkinRequirements"`
}

// EpicSections is the fan-in record of the epic mapping parallel node.
type EpicSections struct {
	Personas       PlanSection `json:"personas"`
	Research       PlanSection `json:"research"`
	Usability      PlanSection `json:"usability"`
	Implementation PlanSection `json:"implementation"`
	Onboarding     PlanSection `json:"onboarding"`
	Logging        PlanSection `json:"logging"`
	Integration    PlanSection `json:"integration"`
	Testing        PlanSection `json:"testing"`
}

func (s EpicSections) byID() map[string]PlanSection {
	return map[string]PlanSection{
		StepEpicPersonas:       s.Personas,
		StepEpicResearch:       s.Research,
		StepEpicUsability:      s.Usability,
		StepEpicImplementation: s.Implementation,
		StepEpicOnboarding:     s.Onboarding,
		StepEpicLogging:        s.Logging,
		StepEpicIntegration:    s.Integration,
		StepEpicTesting:        s.Testing,
	}
}

type EpicDocument struct {
	Document string `json:"document"`
}

type (
	planReply struct {
		Description         string   `json:"description"`
		GherkinRequirements []string `json:"gherkinRequirements" jsonschema:"required"`
	}
	researchTasksReply struct {
		ResearchTasks []string `json:"researchTasks" jsonschema:"required"`
	}
)

// RenderEpicDocument 将各章节渲染为 Markdown 文档。
func RenderEpicDocument(s EpicSections) string {
	sections := s.byID()
	parts := make([]string, 0, len(epicSections))
	for _, id := range epicSections {
		sec := sections[id]
		var sb strings.Builder
		fmt.Fprintf(&sb, "## %s\n%s\n\n### Gherkin Requirements\n", strings.ToUpper(id[:1])+id[1:], sec.Description)
		sb.WriteString(bulletList(sec.GherkinRequirements))
		parts = append(parts, sb.String())
	}
	return "# Epic Mapping Document\n\n" + strings.Join(parts, "\n\n")
}

func planStep(id, desc string, a *agent.Agent) workflow.Step {
	return workflow.NewStep(id,
		func(ctx context.Context, sc *workflow.StepContext, in EpicInput) (PlanSection, error) {
			reply, err := ask[planReply](ctx, sc, a, in.EpicStatement)
			if err != nil {
				return PlanSection{}, err
			}
			return PlanSection{Description: reply.Description, GherkinRequirements: reply.GherkinRequirements}, nil
		},
		workflow.WithDescription(desc))
}

func (c *Catalog) epicMappingSteps() []workflow.Step {
	personasAgent := c.agents.MustGet(AgentIdentifyPersonas)
	researchAgent := c.agents.MustGet(AgentResearch)

	return []workflow.Step{
		workflow.NewStep(StepEpicPersonas,
			func(ctx context.Context, sc *workflow.StepContext, in EpicInput) (PlanSection, error) {
				reply, err := ask[personasReply](ctx, sc, personasAgent, in.EpicStatement)
				if err != nil {
					return PlanSection{}, err
				}
				reqs := make([]string, len(reply.Personas))
				for i, p := range reply.Personas {
					reqs[i] = fmt.Sprintf("Given a user persona named %s, when they interact with the system, then their needs (%s) should be addressed.", p.Name, p.Description)
				}
				return PlanSection{Description: "Personas relevant to this epic.", GherkinRequirements: reqs}, nil
			},
			workflow.WithDescription("Generate user personas.")),

		workflow.NewStep(StepEpicResearch,
			func(ctx context.Context, sc *workflow.StepContext, in EpicInput) (PlanSection, error) {
				reply, err := ask[researchTasksReply](ctx, sc, researchAgent,
					"List the research tasks needed to understand the current state of this epic:\n"+in.EpicStatement)
				if err != nil {
					return PlanSection{}, err
				}
				reqs := make([]string, len(reply.ResearchTasks))
				for i, task := range reply.ResearchTasks {
					reqs[i] = "Given the need to understand the current state, when researching, then complete the task: " + task
				}
				return PlanSection{Description: "Research tasks needed to understand the current state.", GherkinRequirements: reqs}, nil
			},
			workflow.WithDescription("Generate research tasks for current state.")),

		planStep(StepEpicUsability, "Make a plan for usability/UX.", c.agents.MustGet(AgentUsabilityPlan)),
		planStep(StepEpicImplementation, "Make an implementation plan.", c.agents.MustGet(AgentImplementation)),
		planStep(StepEpicOnboarding, "Generate onboarding tasks.", c.agents.MustGet(AgentOnboarding)),
		planStep(StepEpicLogging, "List logging requirements.", c.agents.MustGet(AgentLogging)),
		planStep(StepEpicIntegration, "Plan integration and defensive coding.", c.agents.MustGet(AgentIntegration)),
		planStep(StepEpicTesting, "Lay out a testing plan.", c.agents.MustGet(AgentTestingPlan)),

		workflow.NewStep(StepEpicGather,
			func(_ context.Context, _ *workflow.StepContext, in EpicSections) (EpicDocument, error) {
				return EpicDocument{Document: RenderEpicDocument(in)}, nil
			},
			workflow.WithDescription("Gather all outputs into a single document.")),
	}
}

func (c *Catalog) buildEpicMapping() (*workflow.Workflow, error) {
	sections := make([]workflow.Step, len(epicSections))
	for i, id := range epicSections {
		sections[i] = c.lookup(id)
	}
	return workflow.New(EpicMappingWorkflowID,
		workflow.WithWorkflowDescription("Map an epic to a set of plan sections with Gherkin requirements.")).
		Parallel(sections...).
		Then(c.lookup(StepEpicGather)).
		Commit()
}
