// Package jira 提供 Jira Cloud 的 issue 与项目工具，以及记录当前项目 key 的记忆工具。
package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/storyflow/agent/memory"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/tools/apiclient"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultProjectKey       = "SCRUM"
	DefaultMaxResults       = 20
	DefaultEpicMaxResults   = 50
	CurrentProjectMemoryKey = "currentProjectKey"

	apiPrefix = "/rest/api/3"
)

// Config 配置 Jira Cloud 客户端。BaseURL 是站点地址，例如 https://acme.atlassian.net。
type Config struct {
	BaseURL   string
	Email     string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // 每秒请求数，默认 5
	// HTTPClient 仅用于测试。
	HTTPClient *http.Client
}

type Client struct {
	api       *apiclient.Client
	site      string
	hasAuth   bool
	rateLimit float64
	store     memory.WorkingMemoryStore
	logger    *zap.Logger
}

// NewClient creates a Jira client. store holds the current project key; when
// nil an in-memory store is used.
func NewClient(cfg Config, store memory.WorkingMemoryStore, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if store == nil {
		store = memory.NewInMemoryStore(logger)
	}
	site := strings.TrimRight(cfg.BaseURL, "/")
	headers := map[string]string{}
	if cfg.Email != "" && cfg.Token != "" {
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Email+":"+cfg.Token))
	}
	return &Client{
		api: apiclient.New(apiclient.Config{
			Service:    "Jira",
			BaseURL:    site + apiPrefix,
			Headers:    headers,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}, logger),
		site:      site,
		hasAuth:   len(headers) > 0,
		rateLimit: cfg.RateLimit,
		store:     store,
		logger:    logger.With(zap.String("component", "jira_tools")),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.hasAuth {
		return types.NewError(types.ErrToolFailed, "Jira: JIRA_EMAIL and JIRA_TOKEN must be set")
	}
	if c.site == "" {
		return types.NewError(types.ErrToolFailed, "Jira: JIRA_BASE_URL must be set")
	}
	return c.api.Do(ctx, method, path, body, out)
}

func (c *Client) browseURL(key string) string {
	return c.site + "/browse/" + key
}

// =============================================================================
// Atlassian Document Format
// =============================================================================

// ADFDocument 是 Jira v3 API 使用的富文本格式。
type ADFDocument struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []ADFNode `json:"content"`
}

type ADFNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []ADFNode `json:"content,omitempty"`
}

// NewADF 把纯文本转换为文档，每个空行分隔的段落一个 paragraph 节点。
func NewADF(text string) *ADFDocument {
	doc := &ADFDocument{Type: "doc", Version: 1, Content: []ADFNode{}}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		doc.Content = append(doc.Content, ADFNode{
			Type:    "paragraph",
			Content: []ADFNode{{Type: "text", Text: para}},
		})
	}
	return doc
}

// PlainText flattens a document back to text, one block per line.
func (d *ADFDocument) PlainText() string {
	if d == nil {
		return ""
	}
	var blocks []string
	for _, n := range d.Content {
		if t := strings.TrimSpace(n.text()); t != "" {
			blocks = append(blocks, t)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (n ADFNode) text() string {
	if n.Type == "text" {
		return n.Text
	}
	if n.Type == "hardBreak" {
		return "\n"
	}
	var sb strings.Builder
	for i, child := range n.Content {
		if i > 0 && child.Type != "text" && child.Type != "hardBreak" {
			sb.WriteString("\n")
		}
		sb.WriteString(child.text())
	}
	return sb.String()
}

// =============================================================================
// Issues
// =============================================================================

type CreateIssueInput struct {
	ProjectKey  string `json:"projectKey"`
	Summary     string `json:"summary" jsonschema:"minLength=1"`
	Description string `json:"description,omitempty"`
	IssueType   string `json:"issueType,omitempty" jsonschema:"default=Task"`
}

type CreatedIssue struct {
	Key string `json:"key"`
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (*CreatedIssue, error) {
	if in.IssueType == "" {
		in.IssueType = "Task"
	}
	fields := map[string]any{
		"project":     map[string]string{"key": in.ProjectKey},
		"summary":     in.Summary,
		"description": NewADF(in.Description),
		"issuetype":   map[string]string{"name": in.IssueType},
	}

	var resp struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/issue", map[string]any{"fields": fields}, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("jira issue created", zap.String("key", resp.Key))
	return &CreatedIssue{Key: resp.Key, ID: resp.ID, URL: c.browseURL(resp.Key)}, nil
}

type IssueKeyInput struct {
	IssueKey string `json:"issueKey" jsonschema:"minLength=1"`
}

type Issue struct {
	Key         string `json:"key"`
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	IssueType   string `json:"issueType,omitempty"`
	URL         string `json:"url"`
}

type issuePayload struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string       `json:"summary"`
		Description *ADFDocument `json:"description"`
		Status      *struct {
			Name string `json:"name"`
		} `json:"status"`
		IssueType *struct {
			Name string `json:"name"`
		} `json:"issuetype"`
	} `json:"fields"`
}

func (c *Client) toIssue(p issuePayload) Issue {
	out := Issue{
		Key:         p.Key,
		ID:          p.ID,
		Summary:     p.Fields.Summary,
		Description: p.Fields.Description.PlainText(),
		URL:         c.browseURL(p.Key),
	}
	if p.Fields.Status != nil {
		out.Status = p.Fields.Status.Name
	}
	if p.Fields.IssueType != nil {
		out.IssueType = p.Fields.IssueType.Name
	}
	return out
}

func (c *Client) GetIssue(ctx context.Context, in IssueKeyInput) (*Issue, error) {
	var p issuePayload
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(in.IssueKey), nil, &p); err != nil {
		return nil, err
	}
	issue := c.toIssue(p)
	return &issue, nil
}

type UpdateIssueInput struct {
	IssueKey    string `json:"issueKey" jsonschema:"minLength=1"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty" jsonschema:"description=Target status name; applied through a workflow transition"`
}

type UpdateResult struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	URL     string `json:"url,omitempty"`
}

// UpdateIssue 更新字段；状态变更通过 transitions API 完成，找不到同名状态的转换时报错。
func (c *Client) UpdateIssue(ctx context.Context, in UpdateIssueInput) (*UpdateResult, error) {
	fields := map[string]any{}
	if in.Summary != "" {
		fields["summary"] = in.Summary
	}
	if in.Description != "" {
		fields["description"] = NewADF(in.Description)
	}
	path := "/issue/" + url.PathEscape(in.IssueKey)
	if len(fields) > 0 {
		if err := c.do(ctx, http.MethodPut, path, map[string]any{"fields": fields}, nil); err != nil {
			return nil, err
		}
	}
	if in.Status != "" {
		if err := c.transition(ctx, path, in.Status); err != nil {
			return nil, err
		}
	}
	return &UpdateResult{Success: true, Key: in.IssueKey, URL: c.browseURL(in.IssueKey)}, nil
}

func (c *Client) transition(ctx context.Context, issuePath, status string) error {
	var resp struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			To   struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, issuePath+"/transitions", nil, &resp); err != nil {
		return err
	}
	var available []string
	for _, t := range resp.Transitions {
		if strings.EqualFold(t.To.Name, status) || strings.EqualFold(t.Name, status) {
			body := map[string]any{"transition": map[string]string{"id": t.ID}}
			return c.do(ctx, http.MethodPost, issuePath+"/transitions", body, nil)
		}
		available = append(available, t.To.Name)
	}
	return types.Errorf(types.ErrToolFailed, "Jira: no transition to status %q (available: %s)",
		status, strings.Join(available, ", "))
}

func (c *Client) DeleteIssue(ctx context.Context, in IssueKeyInput) (*UpdateResult, error) {
	if err := c.do(ctx, http.MethodDelete, "/issue/"+url.PathEscape(in.IssueKey), nil, nil); err != nil {
		return nil, err
	}
	return &UpdateResult{Success: true, Key: in.IssueKey}, nil
}

// =============================================================================
// Search
// =============================================================================

type ListIssuesInput struct {
	JQL        string `json:"jql" jsonschema:"description=Jira Query Language string"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"minimum=1,maximum=100"`
}

type IssueList struct {
	Issues []Issue `json:"issues"`
}

func (c *Client) ListIssues(ctx context.Context, in ListIssuesInput) (*IssueList, error) {
	if in.MaxResults <= 0 {
		in.MaxResults = DefaultMaxResults
	}
	return c.search(ctx, in.JQL, in.MaxResults)
}

func (c *Client) search(ctx context.Context, jql string, maxResults int) (*IssueList, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", "summary,status,issuetype")

	var resp struct {
		Issues []issuePayload `json:"issues"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/jql?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := &IssueList{Issues: make([]Issue, 0, len(resp.Issues))}
	for _, p := range resp.Issues {
		out.Issues = append(out.Issues, c.toIssue(p))
	}
	return out, nil
}

type ListEpicsInput struct {
	ProjectKey string `json:"projectKey,omitempty" jsonschema:"description=Jira project key (currentProjectKey)"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"minimum=1,maximum=100"`
}

// ListEpics 列出项目下的 epic；未指定项目时依次使用当前项目 key 与 SCRUM。
func (c *Client) ListEpics(ctx context.Context, in ListEpicsInput) (*IssueList, error) {
	if in.MaxResults <= 0 {
		in.MaxResults = DefaultEpicMaxResults
	}
	key := in.ProjectKey
	if key == "" {
		current, err := c.CurrentProjectKey(ctx)
		if err != nil {
			return nil, err
		}
		key = current.ProjectKey
	}
	if key == "" {
		key = DefaultProjectKey
	}
	return c.search(ctx, fmt.Sprintf("project = %s AND issuetype = Epic", key), in.MaxResults)
}

type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ProjectList struct {
	Projects []Project `json:"projects"`
}

type Empty struct{}

func (c *Client) ListProjects(ctx context.Context, _ Empty) (*ProjectList, error) {
	var resp struct {
		Values []struct {
			ID   string `json:"id"`
			Key  string `json:"key"`
			Name string `json:"name"`
		} `json:"values"`
	}
	if err := c.do(ctx, http.MethodGet, "/project/search", nil, &resp); err != nil {
		return nil, err
	}
	out := &ProjectList{Projects: make([]Project, 0, len(resp.Values))}
	for _, p := range resp.Values {
		out.Projects = append(out.Projects, Project{ID: p.ID, Key: p.Key, Name: p.Name, URL: c.browseURL(p.Key)})
	}
	return out, nil
}

// =============================================================================
// Current project
// =============================================================================

type ProjectKey struct {
	ProjectKey string `json:"projectKey,omitempty"`
}

type SetProjectKeyInput struct {
	ProjectKey string `json:"projectKey" jsonschema:"minLength=1"`
}

func (c *Client) CurrentProjectKey(ctx context.Context) (*ProjectKey, error) {
	v, _, err := c.store.Get(ctx, CurrentProjectMemoryKey)
	if err != nil {
		return nil, err
	}
	return &ProjectKey{ProjectKey: v}, nil
}

func (c *Client) SetCurrentProjectKey(ctx context.Context, in SetProjectKeyInput) (*ProjectKey, error) {
	key := strings.ToUpper(strings.TrimSpace(in.ProjectKey))
	if err := c.store.Set(ctx, CurrentProjectMemoryKey, key); err != nil {
		return nil, err
	}
	return &ProjectKey{ProjectKey: key}, nil
}

// =============================================================================
// Tools
// =============================================================================

// Tools returns every Jira tool, sharing one rate limiter.
func (c *Client) Tools() []tools.Tool {
	limit := tools.WithLimiter(rate.NewLimiter(rate.Limit(c.rateLimit), int(c.rateLimit)+1))
	return []tools.Tool{
		tools.New("create-jira-issue", "Create a new Jira issue/card.", c.CreateIssue, limit),
		tools.New("get-jira-issue", "Get a Jira issue/card by key.", c.GetIssue, limit),
		tools.New("update-jira-issue", "Update a Jira issue/card.", c.UpdateIssue, limit),
		tools.New("delete-jira-issue", "Delete a Jira issue/card.", c.DeleteIssue, limit),
		tools.New("list-jira-issues", "List Jira issues using a JQL query.", c.ListIssues, limit),
		tools.New("list-jira-projects", "List all Jira projects.", c.ListProjects, limit),
		tools.New("list-jira-epics-for-project", "List all epics for a given Jira project key.", c.ListEpics, limit),
		tools.New("get-current-project-key", "Get the current project key from memory.",
			func(ctx context.Context, _ Empty) (*ProjectKey, error) { return c.CurrentProjectKey(ctx) }),
		tools.New("set-current-project-key", "Remember the Jira project key used by later requests.",
			c.SetCurrentProjectKey),
	}
}
