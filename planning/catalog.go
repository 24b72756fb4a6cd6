package planning

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"sync"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/types"
	"github.com/BaSui01/storyflow/workflow"
	"github.com/BaSui01/storyflow/workflow/dsl"
	"go.uber.org/zap"
)

//go:embed definitions/*.yaml
var definitionsFS embed.FS

// Definitions returns the YAML definitions of the built-in workflows.
func Definitions() fs.FS {
	sub, err := fs.Sub(definitionsFS, "definitions")
	if err != nil {
		panic(err)
	}
	return sub
}

// Catalog 持有规划 Agent、全部步骤以及已提交的工作流。
// 步骤 ID 在所有工作流间唯一，因此一个 dsl.Registry 即可解析全部 YAML 定义。
type Catalog struct {
	deps   Deps
	agents *agent.Registry
	steps  *dsl.Registry
	parser *dsl.Parser
	logger *zap.Logger

	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// NewCatalog builds the agents, registers every planning step and commits the
// four built-in workflows.
func NewCatalog(deps Deps) (*Catalog, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	agents, err := NewAgents(deps)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		deps:      deps,
		agents:    agents,
		steps:     dsl.NewRegistry(),
		logger:    deps.Logger.With(zap.String("component", "planning")),
		workflows: make(map[string]*workflow.Workflow),
	}

	var all []workflow.Step
	all = append(all, c.storyMappingSteps()...)
	all = append(all, c.epicMappingSteps()...)
	all = append(all, c.projectSteps()...)
	all = append(all, c.roleContributionSteps()...)
	for _, s := range all {
		if err := c.steps.Register(s); err != nil {
			return nil, err
		}
	}

	c.parser = dsl.NewParser(c.steps)
	c.parser.RegisterCondition("hasMajorQuestions", workflow.Match(hasMajorQuestions))

	var errs []error
	for _, build := range []func() (*workflow.Workflow, error){
		c.buildStoryMapping,
		c.buildEpicMapping,
		c.buildProject,
		c.buildRoleContributions,
	} {
		wf, err := build()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.workflows[wf.ID()] = wf
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	c.logger.Info("planning catalog ready",
		zap.Int("agents", len(agents.Names())),
		zap.Int("steps", len(c.steps.IDs())),
		zap.Strings("workflows", c.IDs()))
	return c, nil
}

func (c *Catalog) lookup(id string) workflow.Step {
	s, _ := c.steps.Lookup(id)
	return s
}

// Agents returns the agent registry.
func (c *Catalog) Agents() *agent.Registry { return c.agents }

// Steps returns the registry holding every planning step.
func (c *Catalog) Steps() *dsl.Registry { return c.steps }

// Parser returns a DSL parser bound to the planning steps.
func (c *Catalog) Parser() *dsl.Parser { return c.parser }

// Workflow 按 ID 查找工作流，不存在时返回 WORKFLOW_NOT_FOUND。
func (c *Catalog) Workflow(id string) (*workflow.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wf, ok := c.workflows[id]
	if !ok {
		return nil, types.Errorf(types.ErrWorkflowNotFound, "workflow %s not found", id)
	}
	return wf, nil
}

// Workflows returns every registered workflow sorted by id.
func (c *Catalog) Workflows() []*workflow.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns the registered workflow ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.workflows))
	for id := range c.workflows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Register adds wf, replacing a workflow with the same id.
func (c *Catalog) Register(wf *workflow.Workflow) {
	c.mu.Lock()
	_, replaced := c.workflows[wf.ID()]
	c.workflows[wf.ID()] = wf
	c.mu.Unlock()
	c.logger.Info("workflow registered", zap.String("workflow", wf.ID()), zap.Bool("replaced", replaced))
}

// ParseDefinitions parses every .yaml file of fsys against the planning steps.
func (c *Catalog) ParseDefinitions(fsys fs.FS) ([]*workflow.Workflow, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	var (
		out  []*workflow.Workflow
		errs []error
	)
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		wf, err := c.parser.Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path.Base(name), err))
			continue
		}
		out = append(out, wf)
	}
	return out, errors.Join(errs...)
}

// LoadDefinitions parses the YAML pipelines in dir and registers them. A
// definition with the id of a built-in workflow replaces it.
func (c *Catalog) LoadDefinitions(dir string) ([]string, error) {
	wfs, err := c.parser.ParseDir(dir)
	ids := make([]string, 0, len(wfs))
	for _, wf := range wfs {
		c.Register(wf)
		ids = append(ids, wf.ID())
	}
	if err != nil {
		c.logger.Warn("some workflow definitions were rejected", zap.String("dir", dir), zap.Error(err))
	}
	return ids, err
}
