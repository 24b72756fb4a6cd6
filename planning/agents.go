package planning

import (
	"fmt"
	"time"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/agent/memory"
	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/llm/tools"
	"go.uber.org/zap"
)

// Agent names.
const (
	AgentFacilitator      = "Story Mapping Facilitator"
	AgentIdentifyPersonas = "Identify Personas Agent"
	AgentMapActivities    = "Map Activities Agent"
	AgentBreakDownStories = "Break Down Stories Agent"
	AgentPrioritizeFlow   = "Prioritize Flow Agent"
	AgentSpotGaps         = "Spot Gaps Agent"
	AgentSliceReleases    = "Slice Releases Agent"
	AgentCollaborate      = "Collaborate Agent"
	AgentIterateRefine    = "Iterate Refine Agent"
	AgentUsabilityPlan    = "Usability Plan Agent"
	AgentImplementation   = "Implementation Plan Agent"
	AgentOnboarding       = "Onboarding Agent"
	AgentLogging          = "Logging Agent"
	AgentIntegration      = "Integration Agent"
	AgentTestingPlan      = "Testing Plan Agent"
	AgentResearch         = "Research Agent"
	AgentProjectManager   = "Project Manager"
	AgentEngineeringLead  = "Engineering Lead"
	AgentStoryDeveloper   = "Story Developer"
	AgentTaskSplitter     = "Task Splitter"
	AgentInformation      = "Information Agent"
	AgentWeb              = "Web Agent"
)

// RuntimeSessionKey 是运行时上下文中的会话键；带工作记忆的 Agent 以它区分会话，
// 未设置时使用运行 ID。
const RuntimeSessionKey = "session_id"

// Tool names referenced by the catalog.
const (
	toolSearchOnline   = "search-online"
	toolCrawlQuery     = "web-crawl-query"
	toolCrawlIndex     = "web-crawl-index"
	toolGitHubGetIssue = "github-get-issue"
	toolGitHubNewIssue = "github-create-issue"
	toolGitHubGetFile  = "github-get-file"
	toolHallucination  = "hallucination-metric"
	toolBrowser        = "browser"
	toolJiraCreate     = "create-jira-issue"
	toolJiraGet        = "get-jira-issue"
	toolJiraUpdate     = "update-jira-issue"
	toolJiraDelete     = "delete-jira-issue"
	toolJiraList       = "list-jira-issues"
	toolJiraProjects   = "list-jira-projects"
	toolJiraEpics      = "list-jira-epics-for-project"
	toolJiraCurrentKey = "get-current-project-key"
	toolJiraSetKey     = "set-current-project-key"
)

// AgentSpec 描述目录中的一个 Agent。Tools 中不可用的工具在构建时跳过。
type AgentSpec struct {
	Name           string
	Instructions   string
	Tools          []string
	MemoryTemplate string
}

var researchTools = []string{toolSearchOnline, toolCrawlQuery, toolGitHubNewIssue, toolGitHubGetIssue}

const technicalProfileTemplate = `# technical profile

## project info
 - project name:
 - status: [in review, in progress, done]
 - current task: [architecture review, risk analysis, requirements clarification]
 - project owner:
 - engineering lead:
 - github repo:
 - main branch:

## preferences
 - communication style: [eg formal, technical, concise]
 - current project goal:
 - key deadlines:

## session state
 - last requirement reviewed:
    blockers:
    status: [open, resolved]
    open questions:
 - last code area reviewed:
    blockers:
    open questions:`

const projectProfileTemplate = `# project profile

## project info
 - project name:
 - status: [in progress, done]
 - current task: [gathering requirements, templating]
 - project owner:
 - jira ticket:

## preferences
 - github repo owner:
 - github repo name:
 - communication style: [eg formal, casual]
 - current project goal:
 - key deadlines:

## session state
 - last epic discussed:
    blockers:
    status: [planned, in progress, done]
    open questions:
 - last story card discussed:
    blockers:
    open questions:`

func planSection(topic string) string {
	return fmt.Sprintf(`Given an epic statement, describe what is needed and why for %s.
Then express every requirement as a Gherkin scenario (Given / When / Then) in gherkinRequirements.`, topic)
}

func storyMappingStep(job, inputs, outputs string) string {
	return fmt.Sprintf(`You are a story mapping facilitator. Your job is to help a team %s for a new product, feature, or workflow.

- Take the provided %s.
- %s
- If there are gaps or unknowns, turn them into research tasks instead of asking the user directly.
- You may use online search when it helps clarify the map.`, job, inputs, outputs)
}

// AgentCatalog returns the specs of every planning agent, role agents included.
func AgentCatalog() []AgentSpec {
	specs := []AgentSpec{
		{
			Name: AgentFacilitator,
			Instructions: `You are a story mapping facilitator. Your job is to frame the problem and define the goal for a new product, feature, or workflow.

- Write the goal in the form: As a [type of user], I want [action] so that [benefit].
- If the input is vague, ambiguous, or missing major information, list direct clarifying questions in majorQuestions.
- For domain knowledge the user is unlikely to have, do NOT ask; add a research task instead (e.g. "Research: main pain points for [persona] in [domain]").
- Do not move on to personas, activities or detailed stories.`,
			Tools: []string{toolSearchOnline},
		},
		{
			Name: AgentIdentifyPersonas,
			Instructions: `You are a user research facilitator. Your job is to identify the key user personas for a new product, feature, or workflow.

- Take the provided goal statement and generate the relevant personas.
- For each persona give a name, description, goals, pain points and behaviors.
- For unknowns or domain gaps, create research tasks instead of asking the user.`,
			Tools: []string{toolSearchOnline},
		},
		{
			Name:         AgentMapActivities,
			Instructions: storyMappingStep("map the high-level activities (the backbone)", "personas and goal statement", "List the activities users perform to reach the goal, in chronological order."),
			Tools:        []string{toolSearchOnline},
		},
		{
			Name:         AgentBreakDownStories,
			Instructions: storyMappingStep("break high-level activities down into user stories", "activities, personas and goal statement", `For each activity list user stories in the form "As a ... I want ... so that ...", covering main and alternate flows.`),
			Tools:        []string{toolSearchOnline},
		},
		{
			Name:         AgentPrioritizeFlow,
			Instructions: storyMappingStep("prioritize user stories and identify flow and dependencies", "activity stories, personas and goal statement", "For each activity give every story a priority (lower is more important) and a flow such as 'main', 'alternate', 'blocked by X' or 'depends on Y'."),
			Tools:        []string{toolSearchOnline},
		},
		{
			Name:         AgentSpotGaps,
			Instructions: storyMappingStep("spot gaps, dependencies and risks in a user story map", "prioritized stories, personas and goal statement", "List gaps (missing steps, unclear requirements), dependencies (technical or process) and risks (delivery, technical, user), each with a short note explaining why it was flagged."),
			Tools:        []string{toolSearchOnline},
		},
		{
			Name:         AgentSliceReleases,
			Instructions: storyMappingStep("slice a user story map into releases", "gaps, dependencies, risks, prioritized stories, personas and goal statement", "List releases, each a named, reviewable slice of stories that respects dependencies and risks."),
			Tools:        []string{toolSearchOnline},
		},
		{
			Name:         AgentCollaborate,
			Instructions: storyMappingStep("plan a collaboration session", "releases and goal statement", "List the participants (cross-functional roles or names) and pick a facilitator, saying who should address open gaps or risks."),
			Tools:        []string{toolSearchOnline},
		},
		{
			Name: AgentIterateRefine,
			Instructions: `You are a user journey mapping facilitator. Your job is to iterate on and refine a finished story map.
- Review the releases, sessions and participants you are given.
- Summarize the changes or refinements you recommend in updatedMap.`,
		},
		{Name: AgentUsabilityPlan, Instructions: planSection("usability and UX")},
		{Name: AgentImplementation, Instructions: planSection("implementation")},
		{Name: AgentOnboarding, Instructions: planSection("onboarding")},
		{Name: AgentLogging, Instructions: planSection("logging and observability")},
		{Name: AgentIntegration, Instructions: planSection("integration and defensive coding, including IO and feature flagging")},
		{Name: AgentTestingPlan, Instructions: planSection("testing")},
		{
			Name: AgentResearch,
			Instructions: `You are an expert researcher. Your job is to research a given topic and summarize what you find.
- Use the provided tools to research the topic.
- Set couldNotAnswer when the sources do not answer the question.
- Communicate clearly and concisely, focusing on technical depth and actionable feedback.`,
			Tools:          researchTools,
			MemoryTemplate: technicalProfileTemplate,
		},
		{
			Name: AgentProjectManager,
			Instructions: `You are a project manager coordinating complex software and product development work.

For every input:
- Identify missing or ambiguous information and ask for it as open questions.
- Break the work into major tasks and note the dependencies between them.
- Keep track of deadlines, decisions and requirements in your working memory.
Keep communication professional, precise and focused on progress.`,
			Tools:          append(append([]string(nil), researchTools...), toolCrawlIndex),
			MemoryTemplate: projectProfileTemplate,
		},
		{
			Name: AgentEngineeringLead,
			Instructions: `You are an expert engineering lead. Your job is to review project requirements, identify technical risks, clarify ambiguities and suggest improvements.
- For each requirement check for missing technical details, architectural concerns and potential risks.
- Add technical questions or clarifications as needed and list the data sources worth consulting.
- Use the provided tools to research, read code and validate facts.`,
			Tools:          append(append([]string(nil), researchTools...), toolHallucination, toolGitHubGetFile),
			MemoryTemplate: technicalProfileTemplate,
		},
		{
			Name: AgentStoryDeveloper,
			Instructions: `You are a senior business analyst and software engineer experienced in Behavior-Driven Development, regulatory compliance and secure coding standards.

Given feature requirements:
- Write Gherkin feature files with Feature, Scenario and Scenario Outline blocks covering key paths, edge cases and variations.
- Tag scenarios with the compliance or internal standards they support (e.g. # GDPR, # Must log transaction).
- List the open questions or assumptions that would make the scenarios more complete.`,
			Tools:          researchTools,
			MemoryTemplate: projectProfileTemplate,
		},
		{
			Name: AgentTaskSplitter,
			Instructions: `You are a project task and GitHub issue management expert. Given a list of tasks, a list of research questions and the current GitHub issues:
1. Identify issues that are no longer needed.
2. Create GitHub issues for every actionable work task and every research question (label research issues 'research').
3. Report createdIssues, closedIssues, remainingIssues and questionToResearchIssue.`,
			Tools: []string{toolGitHubNewIssue, toolGitHubGetIssue},
		},
		{
			Name: AgentInformation,
			Instructions: `You are the entry point for story mapping. You gather information from the user and keep the Jira project up to date with the tools provided.

When the user talks about a project, store its key with set-current-project-key.
When the user refers to epics or issues in "that project", use get-current-project-key.`,
			Tools: []string{
				toolJiraGet, toolJiraUpdate, toolJiraDelete, toolJiraCreate, toolJiraList,
				toolJiraProjects, toolJiraEpics, toolJiraCurrentKey, toolJiraSetKey,
			},
			MemoryTemplate: `current project:
current task:
current status:
currentProjectKey:`,
		},
		{
			Name: AgentWeb,
			Instructions: `You are a web research agent.
- When asked to look something up, browse to a search engine unless a specific website is named.
- Use what you find on the page to answer the question.`,
			Tools: []string{toolBrowser},
			MemoryTemplate: `current page:
current page summary:`,
		},
	}
	for _, r := range Roles() {
		specs = append(specs, AgentSpec{Name: r.Agent, Instructions: r.instructions()})
	}
	return specs
}

// Deps 是构建目录所需的依赖。
type Deps struct {
	Provider llm.Provider
	// Model 为空时使用 agent.DefaultModel
	Model string
	// Tools 是可供 Agent 使用的全部工具，按名称匹配
	Tools []tools.Tool
	// MemoryStore 为空时每个带记忆的 Agent 使用进程内存储
	MemoryStore  memory.WorkingMemoryStore
	AgentOptions []agent.Option
	Logger       *zap.Logger
	// Now 用于排期计算，默认 time.Now
	Now func() time.Time
}

func (d *Deps) normalize() error {
	if d.Provider == nil {
		return fmt.Errorf("planning: provider is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

// NewAgents builds every agent of AgentCatalog.
func NewAgents(deps Deps) (*agent.Registry, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	byName := make(map[string]tools.Tool, len(deps.Tools))
	for _, t := range deps.Tools {
		byName[t.Name()] = t
	}

	registry := agent.NewRegistry()
	for _, def := range AgentCatalog() {
		cfg := agent.Config{
			Name:         def.Name,
			Instructions: def.Instructions,
			Model:        deps.Model,
		}
		var missing []string
		for _, name := range def.Tools {
			if t, ok := byName[name]; ok {
				cfg.Tools = append(cfg.Tools, t)
			} else {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			deps.Logger.Debug("agent tools not configured",
				zap.String("agent", def.Name), zap.Strings("tools", missing))
		}
		if def.MemoryTemplate != "" {
			cfg.Memory = &agent.MemoryConfig{Template: def.MemoryTemplate}
		}

		opts := []agent.Option{agent.WithLogger(deps.Logger)}
		if deps.MemoryStore != nil {
			opts = append(opts, agent.WithMemoryStore(deps.MemoryStore))
		}
		opts = append(opts, deps.AgentOptions...)

		a, err := agent.New(cfg, deps.Provider, opts...)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
