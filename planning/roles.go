package planning

import (
	"fmt"
	"strings"
)

// Role 是参与故事地图的一个角色。Key 同时是角色贡献工作流中的步骤 ID。
type Role struct {
	Key           string
	Title         string
	Agent         string
	Contributions []string
}

func (r Role) instructions() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "As a %s, your contributions to story mapping are:\n", r.Title)
	for _, c := range r.Contributions {
		sb.WriteString("- " + c + "\n")
	}
	sb.WriteString("For each, provide a clear, actionable contribution for this epic. Answer with your role and your contribution.")
	return sb.String()
}

// Roles returns the ten story mapping roles in presentation order.
func Roles() []Role {
	return []Role{
		{
			Key: "productOwner", Title: "Product Owner / Manager", Agent: "Product Owner / Manager Agent",
			Contributions: []string{
				"Define the goal: frame the user personas, product vision, and user needs.",
				"Curate backlog: surface existing user stories, epics, and priorities.",
				"Guide prioritization: rationalize story ordering (value, impact, dependencies).",
			},
		},
		{
			Key: "facilitator", Title: "Facilitator / Scrum Master", Agent: "Facilitator / Scrum Master Agent",
			Contributions: []string{
				"Drive the process: keep the session focused on user outcomes, not technical tangents.",
				"Ensure participation: encourage every voice and manage group dynamics.",
				"Time-box efficiently: segment into manageable blocks or sprints.",
			},
		},
		{
			Key: "developer", Title: "Developer / Engineer", Agent: "Developers / Engineers Agent",
			Contributions: []string{
				`Evaluate feasibility: ask technical questions early ("How will login work?", "How to scale?").`,
				"Highlight dependencies: surface backend, API, or platform constraints.",
				"Suggest alternatives: propose leaner approaches that deliver value.",
			},
		},
		{
			Key: "ux", Title: "UX/UI Designer & Researcher", Agent: "UX/UI Designer & Researcher Agent",
			Contributions: []string{
				"Champion usability: raise task flows, design clarity, accessibility gaps.",
				"Validate personas: confirm user goals and signal missing scenarios.",
				"Sketch wireframes: provide visual supports (not full designs) to clarify concepts.",
			},
		},
		{
			Key: "qa", Title: "QA / Tester", Agent: "QA / Testers Agent",
			Contributions: []string{
				"Identify test scenarios: think edge cases and validation paths under each story.",
				"Provide early quality checks: point out ambiguous requirements or acceptance criteria gaps.",
			},
		},
		{
			Key: "analyst", Title: "Business / Data Analyst", Agent: "Business / Data Analyst Agent",
			Contributions: []string{
				"Back up with data: bring metrics, usage patterns, or business logic insights.",
				"Suggest measurable outcomes: add success criteria (KPIs, conversion rates, retention).",
			},
		},
		{
			Key: "marketing", Title: "Marketing / Sales contributor", Agent: "Marketing / Sales Agent",
			Contributions: []string{
				"Align messaging: share how features affect positioning and communications.",
				"Influence timing: highlight scheduling needs (promo campaigns, seasonal demands).",
			},
		},
		{
			Key: "support", Title: "Customer Support / Success contributor", Agent: "Customer Support / Success Agent",
			Contributions: []string{
				"Surface pain points: represent voice-of-customer scenarios and typical support cases.",
				"Clarify support load: point out stories that may increase complexity or volume.",
			},
		},
		{
			Key: "sponsor", Title: "Business Owner / Executive Sponsor", Agent: "Business Owner / Executive Sponsor Agent",
			Contributions: []string{
				"Ensure alignment: validate that prioritized work aligns with strategic goals.",
				"Champion the roadmap: commit to business-wide timelines and outcome-driven releases.",
			},
		},
		{
			Key: "devops", Title: "DevOps / Technical Ops contributor", Agent: "DevOps / Technical Ops Agent",
			Contributions: []string{
				"Non-functional focus: integrate deployability, reliability, monitoring needs.",
				"Plan operational workflows: highlight infrastructure or integration tasks.",
			},
		},
	}
}

// RoleByKey looks up a role by its key.
func RoleByKey(key string) (Role, bool) {
	for _, r := range Roles() {
		if r.Key == key {
			return r, true
		}
	}
	return Role{}, false
}
