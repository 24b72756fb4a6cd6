package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/storyflow/types"
	"github.com/BaSui01/storyflow/workflow"
)

const RoleContributionsWorkflowID = "role-contributions-workflow"

// Role contributions step ids; the ten role steps use Role.Key as id.
const (
	StepWrapParallelOutput = "wrap-parallel-output"
	StepGatherForFeedback  = "gather-for-feedback"
	StepFanOutForFeedback  = "fan-out-for-feedback"
	StepRoleFeedback       = "role-feedback"
	StepGatherFinal        = "gather-final"
)

type RoleContribution struct {
	Role         string `json:"role"`
	Contribution string `json:"contribution"`
}

type RoleResponses struct {
	EpicStatement string                      `json:"epicStatement"`
	Responses     map[string]RoleContribution `json:"responses"`
}

// FeedbackRequest asks one role to revise its contribution after reading
// everyone else's.
type FeedbackRequest struct {
	RoleKey       string                      `json:"roleKey"`
	EpicStatement string                      `json:"epicStatement"`
	AllResponses  map[string]RoleContribution `json:"allResponses"`
	Previous      RoleContribution            `json:"previous"`
}

type RevisedContribution struct {
	RoleKey      string `json:"roleKey"`
	Role         string `json:"role"`
	Contribution string `json:"contribution"`
}

// FanOutFeedback 按角色顺序为每个已有贡献生成一条反馈请求。
func FanOutFeedback(in RoleResponses) []FeedbackRequest {
	out := make([]FeedbackRequest, 0, len(in.Responses))
	for _, r := range Roles() {
		prev, ok := in.Responses[r.Key]
		if !ok {
			continue
		}
		out = append(out, FeedbackRequest{
			RoleKey:       r.Key,
			EpicStatement: in.EpicStatement,
			AllResponses:  in.Responses,
			Previous:      prev,
		})
	}
	return out
}

// RenderRoleContributions renders the revised contributions as markdown.
func RenderRoleContributions(revised []RevisedContribution) string {
	parts := make([]string, len(revised))
	for i, r := range revised {
		parts[i] = fmt.Sprintf("## %s\n%s", r.Role, r.Contribution)
	}
	return "# Role Contributions\n\n" + strings.Join(parts, "\n\n")
}

func feedbackPrompt(in FeedbackRequest) (string, error) {
	all, err := json.MarshalIndent(in.AllResponses, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Epic: %s\nAll responses: %s\nYour previous: %s", in.EpicStatement, all, in.Previous.Contribution), nil
}

func (c *Catalog) roleContributionSteps() []workflow.Step {
	roles := Roles()
	steps := make([]workflow.Step, 0, len(roles)+5)
	for _, r := range roles {
		a := c.agents.MustGet(r.Agent)
		title := r.Title
		steps = append(steps, workflow.NewStep(r.Key,
			func(ctx context.Context, sc *workflow.StepContext, in EpicInput) (RoleContribution, error) {
				reply, err := ask[RoleContribution](ctx, sc, a, in.EpicStatement)
				if err != nil {
					return RoleContribution{}, err
				}
				if strings.TrimSpace(reply.Role) == "" {
					reply.Role = title
				}
				return reply, nil
			},
			workflow.WithDescription(fmt.Sprintf("Contribution of the %s.", r.Title))))
	}

	return append(steps,
		workflow.NewStep(StepWrapParallelOutput,
			func(_ context.Context, sc *workflow.StepContext, in map[string]RoleContribution) (RoleResponses, error) {
				var epic EpicInput
				if err := json.Unmarshal(sc.RunInput(), &epic); err != nil {
					return RoleResponses{}, types.NewError(types.ErrInvalidRequest, "run input has no epic statement").WithCause(err)
				}
				return RoleResponses{EpicStatement: epic.EpicStatement, Responses: in}, nil
			},
			workflow.WithDescription("Wrap the parallel role output with the epic statement.")),

		workflow.NewStep(StepGatherForFeedback,
			func(_ context.Context, _ *workflow.StepContext, in RoleResponses) (RoleResponses, error) {
				responses := make(map[string]RoleContribution, len(in.Responses))
				for key, rc := range in.Responses {
					if rc.Role == "" {
						if r, ok := RoleByKey(key); ok {
							rc.Role = r.Title
						}
					}
					responses[key] = rc
				}
				return RoleResponses{EpicStatement: in.EpicStatement, Responses: responses}, nil
			},
			workflow.WithDescription("Collect every role's contribution for the feedback round.")),

		workflow.NewStep(StepFanOutForFeedback,
			func(_ context.Context, _ *workflow.StepContext, in RoleResponses) ([]FeedbackRequest, error) {
				return FanOutFeedback(in), nil
			},
			workflow.WithDescription("Fan the responses out to each role for feedback.")),

		workflow.NewStep(StepRoleFeedback,
			func(ctx context.Context, sc *workflow.StepContext, in FeedbackRequest) (RevisedContribution, error) {
				r, ok := RoleByKey(in.RoleKey)
				if !ok {
					return RevisedContribution{}, types.Errorf(types.ErrInvalidRequest, "unknown role %q", in.RoleKey)
				}
				prompt, err := feedbackPrompt(in)
				if err != nil {
					return RevisedContribution{}, err
				}
				reply, err := ask[RoleContribution](ctx, sc, c.agents.MustGet(r.Agent), prompt)
				if err != nil {
					return RevisedContribution{}, err
				}
				role := reply.Role
				if strings.TrimSpace(role) == "" {
					role = in.Previous.Role
				}
				return RevisedContribution{RoleKey: in.RoleKey, Role: role, Contribution: reply.Contribution}, nil
			},
			workflow.WithDescription("Let a role revise its contribution after reading the others.")),

		workflow.NewStep(StepGatherFinal,
			func(_ context.Context, _ *workflow.StepContext, in []RevisedContribution) (string, error) {
				return RenderRoleContributions(in), nil
			},
			workflow.WithDescription("Gather the revised contributions into a document.")),
	)
}

func (c *Catalog) buildRoleContributions() (*workflow.Workflow, error) {
	roles := Roles()
	parallel := make([]workflow.Step, len(roles))
	for i, r := range roles {
		parallel[i] = c.lookup(r.Key)
	}
	return workflow.New(RoleContributionsWorkflowID,
		workflow.WithWorkflowDescription("Collect and cross-review contributions from every story mapping role.")).
		Parallel(parallel...).
		Then(c.lookup(StepWrapParallelOutput)).
		Then(c.lookup(StepGatherForFeedback)).
		Then(c.lookup(StepFanOutForFeedback)).
		Foreach(c.lookup(StepRoleFeedback)).
		Then(c.lookup(StepGatherFinal)).
		Commit()
}
