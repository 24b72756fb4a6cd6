package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/storyflow/workflow"
)

const StoryMappingWorkflowID = "story-mapping-workflow"

// Story mapping step ids.
const (
	StepFrameProblem     = "frame-problem"
	StepOutputNeeds      = "output-needs"
	StepIdentifyPersonas = "identify-personas"
	StepUnwrapPersonas   = "unwrap-identify-personas"
	StepMapActivities    = "map-activities"
	StepBreakDownStories = "break-down-stories"
	StepPrioritizeFlow   = "prioritize-flow"
	StepSpotGaps         = "spot-gaps"
	StepSliceReleases    = "slice-releases"
	StepCollaborate      = "collaborate"
	StepTimebox          = "timebox"
	StepIterateRefine    = "iterate-refine"
	StepFullStoryMapping = "full-story-mapping"
)

// FrameProblem 是故事地图的起点，也是 frame-problem 的输出。
type FrameProblem struct {
	GoalStatement  string   `json:"goalStatement" jsonschema:"description=As a [type of user] I want [action] so that [benefit]."`
	MajorQuestions []string `json:"majorQuestions,omitempty"`
	ResearchTasks  []string `json:"researchTasks,omitempty"`
}

// NeedsInput is the output-needs input. Answers arrive on resume.
type NeedsInput struct {
	FrameProblem
	Answers map[string]string `json:"answers,omitempty"`
}

type NeedsSummary struct {
	Summary        string            `json:"summary"`
	GoalStatement  string            `json:"goalStatement"`
	MajorQuestions []string          `json:"majorQuestions,omitempty"`
	Answers        map[string]string `json:"answers,omitempty"`
}

type Persona struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Goals       []string `json:"goals,omitempty"`
	PainPoints  []string `json:"painPoints,omitempty"`
	Behaviors   []string `json:"behaviors,omitempty"`
}

type Personas struct {
	Personas      []Persona `json:"personas"`
	GoalStatement string    `json:"goalStatement"`
}

// BranchResult is the branch node output: exactly one of the fields is set.
type BranchResult struct {
	OutputNeeds      *NeedsSummary `json:"output-needs,omitempty"`
	IdentifyPersonas *Personas     `json:"identify-personas,omitempty"`
}

type Activities struct {
	Activities    []string  `json:"activities"`
	Personas      []Persona `json:"personas"`
	GoalStatement string    `json:"goalStatement"`
}

type ActivityStories struct {
	Activity string   `json:"activity"`
	Stories  []string `json:"stories"`
}

type Stories struct {
	ActivityStories []ActivityStories `json:"activityStories"`
	Activities      []string          `json:"activities"`
	Personas        []Persona         `json:"personas"`
	GoalStatement   string            `json:"goalStatement"`
}

type PrioritizedStory struct {
	Story    string `json:"story"`
	Priority int    `json:"priority" jsonschema:"description=Lower is more important"`
	Flow     string `json:"flow,omitempty" jsonschema:"description=main / alternate / blocked by X / depends on Y"`
}

type PrioritizedActivity struct {
	Activity string             `json:"activity"`
	Stories  []PrioritizedStory `json:"stories"`
}

type Prioritized struct {
	PrioritizedStories []PrioritizedActivity `json:"prioritizedStories"`
	ActivityStories    []ActivityStories     `json:"activityStories"`
	Personas           []Persona             `json:"personas"`
	GoalStatement      string                `json:"goalStatement"`
}

type GapsReport struct {
	Gaps               []string              `json:"gaps"`
	Dependencies       []string              `json:"dependencies"`
	Risks              []string              `json:"risks"`
	PrioritizedStories []PrioritizedActivity `json:"prioritizedStories"`
	Personas           []Persona             `json:"personas"`
	GoalStatement      string                `json:"goalStatement"`
}

type Release struct {
	Name    string   `json:"name"`
	Stories []string `json:"stories"`
}

type Slices struct {
	Releases           []Release             `json:"releases"`
	Gaps               []string              `json:"gaps"`
	Dependencies       []string              `json:"dependencies"`
	Risks              []string              `json:"risks"`
	PrioritizedStories []PrioritizedActivity `json:"prioritizedStories"`
	Personas           []Persona             `json:"personas"`
	GoalStatement      string                `json:"goalStatement"`
}

type Collaboration struct {
	Participants  []string  `json:"participants"`
	Facilitator   string    `json:"facilitator"`
	Releases      []Release `json:"releases"`
	Personas      []Persona `json:"personas"`
	GoalStatement string    `json:"goalStatement"`
}

type SessionBlock struct {
	Date          string  `json:"date"`
	DurationHours float64 `json:"durationHours"`
	Focus         string  `json:"focus"`
}

type Timebox struct {
	SessionBlocks []SessionBlock `json:"sessionBlocks"`
	Participants  []string       `json:"participants"`
	Facilitator   string         `json:"facilitator"`
	Releases      []Release      `json:"releases"`
	GoalStatement string         `json:"goalStatement"`
}

// StoryMap 是 iterate-refine 的输出，full-story-mapping 将其渲染为缩进 JSON。
type StoryMap struct {
	UpdatedMap    string         `json:"updatedMap" jsonschema:"description=Summary of changes or refinements."`
	SessionBlocks []SessionBlock `json:"sessionBlocks"`
	Participants  []string       `json:"participants"`
	Facilitator   string         `json:"facilitator"`
	Releases      []Release      `json:"releases"`
	GoalStatement string         `json:"goalStatement"`
}

// agent replies carry only the fields the agent is asked to produce.
type (
	personasReply struct {
		Personas []Persona `json:"personas" jsonschema:"required"`
	}
	activitiesReply struct {
		Activities []string `json:"activities" jsonschema:"required"`
	}
	storiesReply struct {
		ActivityStories []ActivityStories `json:"activityStories" jsonschema:"required"`
	}
	prioritizedReply struct {
		PrioritizedStories []PrioritizedActivity `json:"prioritizedStories" jsonschema:"required"`
	}
	gapsReply struct {
		Gaps         []string `json:"gaps" jsonschema:"required"`
		Dependencies []string `json:"dependencies" jsonschema:"required"`
		Risks        []string `json:"risks" jsonschema:"required"`
	}
	releasesReply struct {
		Releases []Release `json:"releases" jsonschema:"required"`
	}
	collaborationReply struct {
		Participants []string `json:"participants" jsonschema:"required"`
		Facilitator  string   `json:"facilitator"`
	}
	refineReply struct {
		UpdatedMap string `json:"updatedMap"`
	}
)

func personaLines(personas []Persona) string {
	lines := make([]string, len(personas))
	for i, p := range personas {
		lines[i] = fmt.Sprintf("Persona: %s - %s", p.Name, p.Description)
	}
	return strings.Join(lines, "\n")
}

func prioritizedLines(items []PrioritizedActivity) string {
	var sb strings.Builder
	for _, a := range items {
		fmt.Fprintf(&sb, "Prioritized Story: %s\n", a.Activity)
		for _, s := range a.Stories {
			fmt.Fprintf(&sb, "  [%d] %s", s.Priority, s.Story)
			if s.Flow != "" {
				fmt.Fprintf(&sb, " (%s)", s.Flow)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func releaseLines(releases []Release) string {
	lines := make([]string, len(releases))
	for i, r := range releases {
		lines[i] = fmt.Sprintf("Release: %s - %s", r.Name, strings.Join(r.Stories, "; "))
	}
	return strings.Join(lines, "\n")
}

// NeedsSummaryText renders the questions and research tasks that block the map.
func NeedsSummaryText(in NeedsInput) string {
	var sb strings.Builder
	if len(in.MajorQuestions) > 0 {
		sb.WriteString("Major questions to resolve before proceeding:\n")
		sb.WriteString(bulletList(in.MajorQuestions))
		sb.WriteString("\n")
	}
	if len(in.ResearchTasks) > 0 {
		sb.WriteString("Research tasks needed:\n")
		sb.WriteString(bulletList(in.ResearchTasks))
		sb.WriteString("\n")
	}
	if len(in.Answers) > 0 {
		sb.WriteString("Answers:\n")
		for _, q := range in.MajorQuestions {
			if a, ok := in.Answers[q]; ok {
				fmt.Fprintf(&sb, "- %s: %s\n", q, a)
			}
		}
		for _, q := range slices.Sorted(maps.Keys(in.Answers)) {
			if !slices.Contains(in.MajorQuestions, q) {
				fmt.Fprintf(&sb, "- %s: %s\n", q, in.Answers[q])
			}
		}
	}
	if sb.Len() == 0 {
		return "No major questions or research tasks."
	}
	return sb.String()
}

// ScheduleSessions 为每个发布切片安排一个工作坊，从 now 的下一个工作日开始，
// 依次占用连续的工作日。时长按故事数每个半小时计，限制在 1 到 4 小时。
func ScheduleSessions(releases []Release, now time.Time) []SessionBlock {
	blocks := make([]SessionBlock, 0, len(releases))
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, r := range releases {
		day = nextWeekday(day)
		hours := min(max(0.5*float64(len(r.Stories)), 1), 4)
		blocks = append(blocks, SessionBlock{
			Date:          day.Format(time.DateOnly),
			DurationHours: hours,
			Focus:         r.Name,
		})
	}
	return blocks
}

func nextWeekday(day time.Time) time.Time {
	day = day.AddDate(0, 0, 1)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func (c *Catalog) storyMappingSteps() []workflow.Step {
	facilitator := c.agents.MustGet(AgentFacilitator)
	personasAgent := c.agents.MustGet(AgentIdentifyPersonas)
	activitiesAgent := c.agents.MustGet(AgentMapActivities)
	storiesAgent := c.agents.MustGet(AgentBreakDownStories)
	prioritizeAgent := c.agents.MustGet(AgentPrioritizeFlow)
	gapsAgent := c.agents.MustGet(AgentSpotGaps)
	slicesAgent := c.agents.MustGet(AgentSliceReleases)
	collaborateAgent := c.agents.MustGet(AgentCollaborate)
	refineAgent := c.agents.MustGet(AgentIterateRefine)

	identify := func(ctx context.Context, sc *workflow.StepContext, goal, notes string) (Personas, error) {
		prompt := goal
		if notes != "" {
			prompt += "\n\n" + notes
		}
		reply, err := ask[personasReply](ctx, sc, personasAgent, prompt)
		if err != nil {
			return Personas{}, err
		}
		return Personas{Personas: reply.Personas, GoalStatement: goal}, nil
	}

	return []workflow.Step{
		workflow.NewStep(StepFrameProblem,
			func(ctx context.Context, sc *workflow.StepContext, in FrameProblem) (FrameProblem, error) {
				reply, err := ask[FrameProblem](ctx, sc, facilitator, in.GoalStatement)
				if err != nil {
					return FrameProblem{}, err
				}
				if strings.TrimSpace(reply.GoalStatement) == "" {
					reply.GoalStatement = in.GoalStatement
				}
				return reply, nil
			},
			workflow.WithDescription("Frame the problem and define the goal.")),

		workflow.NewStep(StepOutputNeeds,
			func(_ context.Context, sc *workflow.StepContext, in NeedsInput) (NeedsSummary, error) {
				if len(in.MajorQuestions) > 0 && !sc.IsResumed() {
					return NeedsSummary{}, sc.Suspend(in)
				}
				return NeedsSummary{
					Summary:        NeedsSummaryText(in),
					GoalStatement:  in.GoalStatement,
					MajorQuestions: in.MajorQuestions,
					Answers:        in.Answers,
				}, nil
			},
			workflow.WithDescription("Output a summary of missing information or research tasks; suspends until the major questions are answered.")),

		workflow.NewStep(StepIdentifyPersonas,
			func(ctx context.Context, sc *workflow.StepContext, in FrameProblem) (Personas, error) {
				return identify(ctx, sc, in.GoalStatement, "")
			},
			workflow.WithDescription("Identify key user personas.")),

		workflow.NewStep(StepUnwrapPersonas,
			func(ctx context.Context, sc *workflow.StepContext, in BranchResult) (Personas, error) {
				switch {
				case in.IdentifyPersonas != nil:
					return *in.IdentifyPersonas, nil
				case in.OutputNeeds != nil:
					// answered questions feed the persona agent so the map can continue
					return identify(ctx, sc, in.OutputNeeds.GoalStatement, in.OutputNeeds.Summary)
				default:
					return Personas{}, errors.New("no branch output to unwrap")
				}
			},
			workflow.WithDescription("Unwrap the branch output into personas.")),

		workflow.NewStep(StepMapActivities,
			func(ctx context.Context, sc *workflow.StepContext, in Personas) (Activities, error) {
				reply, err := ask[activitiesReply](ctx, sc, activitiesAgent,
					personaLines(in.Personas)+"\n"+in.GoalStatement)
				if err != nil {
					return Activities{}, err
				}
				return Activities{Activities: reply.Activities, Personas: in.Personas, GoalStatement: in.GoalStatement}, nil
			},
			workflow.WithDescription("Map high-level activities (backbone).")),

		workflow.NewStep(StepBreakDownStories,
			func(ctx context.Context, sc *workflow.StepContext, in Activities) (Stories, error) {
				var sb strings.Builder
				for _, a := range in.Activities {
					sb.WriteString("Activity: " + a + "\n")
				}
				sb.WriteString(personaLines(in.Personas) + "\n" + in.GoalStatement)
				reply, err := ask[storiesReply](ctx, sc, storiesAgent, sb.String())
				if err != nil {
					return Stories{}, err
				}
				return Stories{
					ActivityStories: reply.ActivityStories,
					Activities:      in.Activities,
					Personas:        in.Personas,
					GoalStatement:   in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Break down activities into user stories.")),

		workflow.NewStep(StepPrioritizeFlow,
			func(ctx context.Context, sc *workflow.StepContext, in Stories) (Prioritized, error) {
				var sb strings.Builder
				for _, as := range in.ActivityStories {
					fmt.Fprintf(&sb, "Activity Story: %s - %s\n", as.Activity, strings.Join(as.Stories, "\n"))
				}
				sb.WriteString(personaLines(in.Personas) + "\n" + in.GoalStatement)
				reply, err := ask[prioritizedReply](ctx, sc, prioritizeAgent, sb.String())
				if err != nil {
					return Prioritized{}, err
				}
				return Prioritized{
					PrioritizedStories: reply.PrioritizedStories,
					ActivityStories:    in.ActivityStories,
					Personas:           in.Personas,
					GoalStatement:      in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Prioritize stories and identify flow.")),

		workflow.NewStep(StepSpotGaps,
			func(ctx context.Context, sc *workflow.StepContext, in Prioritized) (GapsReport, error) {
				reply, err := ask[gapsReply](ctx, sc, gapsAgent,
					prioritizedLines(in.PrioritizedStories)+"\n"+personaLines(in.Personas)+"\n"+in.GoalStatement)
				if err != nil {
					return GapsReport{}, err
				}
				return GapsReport{
					Gaps:               reply.Gaps,
					Dependencies:       reply.Dependencies,
					Risks:              reply.Risks,
					PrioritizedStories: in.PrioritizedStories,
					Personas:           in.Personas,
					GoalStatement:      in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Spot gaps, dependencies, and risks.")),

		workflow.NewStep(StepSliceReleases,
			func(ctx context.Context, sc *workflow.StepContext, in GapsReport) (Slices, error) {
				prompt := fmt.Sprintf("%s\nGaps:\n%s\nDependencies:\n%s\nRisks:\n%s\n%s\n%s",
					prioritizedLines(in.PrioritizedStories),
					bulletList(in.Gaps), bulletList(in.Dependencies), bulletList(in.Risks),
					personaLines(in.Personas), in.GoalStatement)
				reply, err := ask[releasesReply](ctx, sc, slicesAgent, prompt)
				if err != nil {
					return Slices{}, err
				}
				return Slices{
					Releases:           reply.Releases,
					Gaps:               in.Gaps,
					Dependencies:       in.Dependencies,
					Risks:              in.Risks,
					PrioritizedStories: in.PrioritizedStories,
					Personas:           in.Personas,
					GoalStatement:      in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Slice into releases or sprints.")),

		workflow.NewStep(StepCollaborate,
			func(ctx context.Context, sc *workflow.StepContext, in Slices) (Collaboration, error) {
				prompt := releaseLines(in.Releases) + "\n" + personaLines(in.Personas) + "\n" + in.GoalStatement
				if open := append(append([]string(nil), in.Gaps...), in.Risks...); len(open) > 0 {
					prompt += "\nOpen gaps and risks:\n" + bulletList(open)
				}
				reply, err := ask[collaborationReply](ctx, sc, collaborateAgent, prompt)
				if err != nil {
					return Collaboration{}, err
				}
				return Collaboration{
					Participants:  reply.Participants,
					Facilitator:   reply.Facilitator,
					Releases:      in.Releases,
					Personas:      in.Personas,
					GoalStatement: in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Collaborate and facilitate.")),

		workflow.NewStep(StepTimebox,
			func(_ context.Context, _ *workflow.StepContext, in Collaboration) (Timebox, error) {
				return Timebox{
					SessionBlocks: ScheduleSessions(in.Releases, c.deps.Now()),
					Participants:  in.Participants,
					Facilitator:   in.Facilitator,
					Releases:      in.Releases,
					GoalStatement: in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Time-box one mapping session per release.")),

		workflow.NewStep(StepIterateRefine,
			func(ctx context.Context, sc *workflow.StepContext, in Timebox) (StoryMap, error) {
				var sb strings.Builder
				sb.WriteString(releaseLines(in.Releases) + "\n")
				for _, b := range in.SessionBlocks {
					fmt.Fprintf(&sb, "Session: %s %.1fh - %s\n", b.Date, b.DurationHours, b.Focus)
				}
				fmt.Fprintf(&sb, "Participants: %s\nFacilitator: %s\n%s",
					strings.Join(in.Participants, ", "), in.Facilitator, in.GoalStatement)
				reply, err := ask[refineReply](ctx, sc, refineAgent, sb.String())
				if err != nil {
					return StoryMap{}, err
				}
				return StoryMap{
					UpdatedMap:    reply.UpdatedMap,
					SessionBlocks: in.SessionBlocks,
					Participants:  in.Participants,
					Facilitator:   in.Facilitator,
					Releases:      in.Releases,
					GoalStatement: in.GoalStatement,
				}, nil
			},
			workflow.WithDescription("Iterate and refine the map.")),

		workflow.NewStep(StepFullStoryMapping,
			func(_ context.Context, _ *workflow.StepContext, in StoryMap) (string, error) {
				data, err := json.MarshalIndent(in, "", "  ")
				if err != nil {
					return "", err
				}
				return string(data), nil
			},
			workflow.WithDescription("Render the finished story map.")),
	}
}

func hasMajorQuestions(f FrameProblem) bool { return len(f.MajorQuestions) > 0 }

func (c *Catalog) buildStoryMapping() (*workflow.Workflow, error) {
	s := c.lookup
	return workflow.New(StoryMappingWorkflowID,
		workflow.WithWorkflowDescription("Turn a goal statement into a prioritized, release-sliced user story map.")).
		Then(s(StepFrameProblem)).
		Branch(
			workflow.When(s(StepOutputNeeds), workflow.Match(hasMajorQuestions)),
			workflow.Otherwise(s(StepIdentifyPersonas)),
		).
		Then(s(StepUnwrapPersonas)).
		Then(s(StepMapActivities)).
		Then(s(StepBreakDownStories)).
		Then(s(StepPrioritizeFlow)).
		Then(s(StepSpotGaps)).
		Then(s(StepSliceReleases)).
		Then(s(StepCollaborate)).
		Then(s(StepTimebox)).
		Then(s(StepIterateRefine)).
		Then(s(StepFullStoryMapping)).
		Commit()
}
