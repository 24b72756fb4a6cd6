// Package github 提供读取与创建 GitHub issue、读取仓库文件的 Agent 工具。
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/tools/apiclient"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.github.com"

// Config 配置 GitHub 客户端。
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	// RateLimit 为每秒请求数，0 表示使用默认值 5。
	RateLimit float64
	// HTTPClient 仅用于测试。
	HTTPClient *http.Client
}

// Client wraps the REST endpoints the tools need.
type Client struct {
	api       *apiclient.Client
	rateLimit float64
	logger    *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}
	return &Client{
		api: apiclient.New(apiclient.Config{
			Service:    "GitHub",
			BaseURL:    cfg.BaseURL,
			Headers:    headers,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}, logger),
		rateLimit: cfg.RateLimit,
		logger:    logger.With(zap.String("component", "github_tools")),
	}
}

// =============================================================================
// Issues
// =============================================================================

type GetIssueInput struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issueNumber" jsonschema:"minimum=1"`
}

type LinkedIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

type Issue struct {
	Number             int           `json:"number"`
	Title              string        `json:"title"`
	Body               string        `json:"body"`
	AcceptanceCriteria string        `json:"acceptanceCriteria"`
	LinkedIssues       []LinkedIssue `json:"linkedIssues"`
}

type issuePayload struct {
	Number  int     `json:"number"`
	Title   *string `json:"title"`
	Body    *string `json:"body"`
	HTMLURL string  `json:"html_url"`
}

var (
	acceptanceRe = regexp.MustCompile(`(?is)Acceptance Criteria:(.*?)(?:\n\n|\n$|$)`)
	issueRefRe   = regexp.MustCompile(`#(\d+)`)
)

// AcceptanceCriteria 提取 "Acceptance Criteria:" 之后到第一个空行为止的文本。
func AcceptanceCriteria(body string) string {
	m := acceptanceRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// LinkedIssueNumbers returns the issue numbers referenced by "#N" or by full
// issue URLs of the same repository, in order of appearance, without self
// references or duplicates.
func LinkedIssueNumbers(owner, repo, body string, self int) []int {
	urlRe := regexp.MustCompile(`https://github\.com/` + regexp.QuoteMeta(owner) + `/` + regexp.QuoteMeta(repo) + `/issues/(\d+)`)

	seen := map[int]bool{self: true}
	var out []int
	for _, re := range []*regexp.Regexp{issueRefRe, urlRe} {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (c *Client) fetchIssue(ctx context.Context, owner, repo string, number int) (*issuePayload, error) {
	var p issuePayload
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetIssue 读取 issue 及其引用的其他 issue。主 issue 读取失败时返回错误；
// 引用的 issue 读取失败时跳过。
func (c *Client) GetIssue(ctx context.Context, in GetIssueInput) (*Issue, error) {
	p, err := c.fetchIssue(ctx, in.Owner, in.Repo, in.IssueNumber)
	if err != nil {
		return nil, err
	}
	out := &Issue{
		Number:       p.Number,
		Title:        deref(p.Title),
		Body:         deref(p.Body),
		LinkedIssues: []LinkedIssue{},
	}
	out.AcceptanceCriteria = AcceptanceCriteria(out.Body)

	for _, n := range LinkedIssueNumbers(in.Owner, in.Repo, out.Body, in.IssueNumber) {
		linked, err := c.fetchIssue(ctx, in.Owner, in.Repo, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("skipping linked issue", zap.Int("issue", n), zap.Error(err))
			continue
		}
		out.LinkedIssues = append(out.LinkedIssues, LinkedIssue{
			Number: linked.Number,
			Title:  deref(linked.Title),
			URL:    linked.HTMLURL,
		})
	}
	return out, nil
}

type CreateIssueInput struct {
	Owner     string   `json:"owner"`
	Repo      string   `json:"repo"`
	Title     string   `json:"title" jsonschema:"minLength=1"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

type CreatedIssue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (*CreatedIssue, error) {
	body := map[string]any{"title": in.Title}
	if in.Body != "" {
		body["body"] = in.Body
	}
	if len(in.Labels) > 0 {
		body["labels"] = in.Labels
	}
	if len(in.Assignees) > 0 {
		body["assignees"] = in.Assignees
	}

	var p issuePayload
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(in.Owner), url.PathEscape(in.Repo))
	if err := c.api.Do(ctx, http.MethodPost, path, body, &p); err != nil {
		return nil, err
	}
	return &CreatedIssue{Number: p.Number, URL: p.HTMLURL, Title: deref(p.Title)}, nil
}

// =============================================================================
// Contents
// =============================================================================

type GetFileInput struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Path  string `json:"path,omitempty" jsonschema:"description=File or directory path; empty for the repository root"`
	Ref   string `json:"ref,omitempty" jsonschema:"description=Branch tag or commit"`
}

type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// FileContent 是文件内容或目录列表，二者只有一个非空。
type FileContent struct {
	Path    string     `json:"path"`
	Type    string     `json:"type"`
	Content string     `json:"content,omitempty"`
	Entries []DirEntry `json:"entries,omitempty"`
}

type contentPayload struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (c *Client) GetFile(ctx context.Context, in GetFileInput) (*FileContent, error) {
	path := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(in.Owner), url.PathEscape(in.Repo), escapePath(strings.Trim(in.Path, "/")))
	if in.Ref != "" {
		path += "?ref=" + url.QueryEscape(in.Ref)
	}

	var raw jsonValue
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	if raw.list != nil {
		out := &FileContent{Path: in.Path, Type: "dir", Entries: make([]DirEntry, 0, len(raw.list))}
		for _, e := range raw.list {
			out.Entries = append(out.Entries, DirEntry{Name: e.Name, Path: e.Path, Type: e.Type})
		}
		return out, nil
	}

	item := raw.item
	out := &FileContent{Path: item.Path, Type: item.Type}
	if item.Type != "file" {
		return out, nil
	}
	content := item.Content
	if item.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, types.Errorf(types.ErrToolFailed, "GitHub: decode %s: %s", item.Path, err.Error()).WithCause(err)
		}
		content = string(decoded)
	}
	out.Content = content
	return out, nil
}

func escapePath(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// =============================================================================
// Tools
// =============================================================================

// Tools 返回绑定到该客户端的全部 GitHub 工具，三者共享同一个限流器。
func (c *Client) Tools() []tools.Tool {
	limit := tools.WithLimiter(rate.NewLimiter(rate.Limit(c.rateLimit), int(c.rateLimit)+1))
	return []tools.Tool{
		tools.New("github-get-issue",
			"Fetches a GitHub issue, extracts description, acceptance criteria, and linked issues.",
			c.GetIssue, limit),
		tools.New("github-create-issue",
			"Creates a new GitHub issue in the specified repository.",
			c.CreateIssue, limit),
		tools.New("github-get-file",
			"Reads a file from a GitHub repository, or lists the entries of a directory.",
			c.GetFile, limit),
	}
}

// jsonValue decodes the contents endpoint, which answers with an object for
// files and an array for directories.
type jsonValue struct {
	item contentPayload
	list []contentPayload
}

func (v *jsonValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		v.list = []contentPayload{}
		return json.Unmarshal(data, &v.list)
	}
	return json.Unmarshal(data, &v.item)
}
