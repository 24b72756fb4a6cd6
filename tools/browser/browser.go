// Package browser 提供用无头 Chrome 打开页面并返回无障碍树、HTML 或截图的 Agent 工具。
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
)

// Grab 指定从页面获取的内容。
type Grab string

const (
	GrabAria       Grab = "aria"
	GrabContent    Grab = "content"
	GrabScreenshot Grab = "screenshot"
)

// Snapshot 是一次页面访问的结果，只有与 Grab 对应的字段非空。
type Snapshot struct {
	URL        string
	Title      string
	Aria       []AXNode
	HTML       string
	Screenshot []byte
}

// Driver 打开页面并获取指定内容。
type Driver interface {
	Snapshot(ctx context.Context, pageURL string, grab Grab) (*Snapshot, error)
	Close() error
}

type Input struct {
	WebsiteURL string `json:"websiteUrl" jsonschema:"format=uri,description=The URL to navigate to."`
	WhatToGrab Grab   `json:"whatToGrab" jsonschema:"enum=aria,content,screenshot"`
}

type Output struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	WhatToGrab Grab   `json:"whatToGrab"`
	// Output 是无障碍树文本、HTML 或 base64 编码的 PNG。
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Tool 把 Driver 暴露为 browser 工具。
type Tool struct {
	driver    Driver
	maxOutput int
	logger    *zap.Logger
}

// DefaultMaxOutput 限制返回给模型的 aria/content 文本长度。
const DefaultMaxOutput = 100_000

func NewTool(driver Driver, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{driver: driver, maxOutput: DefaultMaxOutput, logger: logger.With(zap.String("component", "browser_tool"))}
}

func (t *Tool) Grab(ctx context.Context, in Input) (*Output, error) {
	u, err := url.Parse(in.WebsiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, types.Errorf(types.ErrToolValidation, "browser: unsupported url %q", in.WebsiteURL)
	}
	switch in.WhatToGrab {
	case GrabAria, GrabContent, GrabScreenshot:
	default:
		return nil, types.Errorf(types.ErrToolValidation, "browser: unknown whatToGrab %q", in.WhatToGrab)
	}

	start := time.Now()
	snap, err := t.driver.Snapshot(ctx, in.WebsiteURL, in.WhatToGrab)
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return nil, err
		}
		return nil, types.Errorf(types.ErrToolFailed, "browser: %s %s: %s", in.WhatToGrab, in.WebsiteURL, err.Error()).WithCause(err)
	}
	t.logger.Debug("page grabbed",
		zap.String("url", in.WebsiteURL),
		zap.String("grab", string(in.WhatToGrab)),
		zap.Duration("duration", time.Since(start)))

	out := &Output{URL: snap.URL, Title: snap.Title, WhatToGrab: in.WhatToGrab}
	if out.URL == "" {
		out.URL = in.WebsiteURL
	}
	switch in.WhatToGrab {
	case GrabAria:
		out.Output, out.Truncated = clip(RenderAria(snap.Aria), t.maxOutput)
	case GrabContent:
		out.Output, out.Truncated = clip(snap.HTML, t.maxOutput)
	case GrabScreenshot:
		out.Output = base64.StdEncoding.EncodeToString(snap.Screenshot)
	}
	return out, nil
}

func clip(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	return s[:n], true
}

// Tools returns the browser tool.
func (t *Tool) Tools() []tools.Tool {
	return []tools.Tool{
		tools.New("browser",
			"Navigate to a URL and retrieve the accessibility tree (aria), the HTML content, or a base64 PNG screenshot.",
			t.Grab, tools.WithTimeout(90*time.Second), tools.WithRateLimit(1, 2)),
	}
}

// =============================================================================
// 无障碍树
// =============================================================================

// AXNode 是无障碍树中的一个节点。
type AXNode struct {
	ID       string
	ParentID string
	Role     string
	Name     string
	Value    string
	Ignored  bool
	Children []string
}

// 这些角色只用于结构，渲染时直接展开其子节点。
var transparentRoles = map[string]bool{
	"": true, "none": true, "generic": true, "InlineTextBox": true, "LineBreak": true,
}

// RenderAria renders the tree as an indented YAML-like list, one
// `- role "name"` line per meaningful node. Ignored and purely structural
// nodes are skipped but their children are kept.
func RenderAria(nodes []AXNode) string {
	if len(nodes) == 0 {
		return ""
	}
	byID := make(map[string]*AXNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	var roots []string
	for _, n := range nodes {
		if n.ParentID == "" || byID[n.ParentID] == nil {
			roots = append(roots, n.ID)
		}
	}

	var sb strings.Builder
	visited := map[string]bool{}
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		n := byID[id]
		if n == nil || visited[id] {
			return
		}
		visited[id] = true

		childDepth := depth
		if !n.Ignored && !transparentRoles[n.Role] && !(n.Role == "StaticText" && n.Name == "") {
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString("- ")
			if n.Role == "StaticText" {
				sb.WriteString("text: ")
				sb.WriteString(quote(n.Name))
			} else {
				sb.WriteString(n.Role)
				if n.Name != "" {
					sb.WriteString(" ")
					sb.WriteString(quote(n.Name))
				}
				if n.Value != "" {
					sb.WriteString(": ")
					sb.WriteString(quote(n.Value))
				}
			}
			sb.WriteString("\n")
			childDepth = depth + 1
		}
		for _, c := range n.Children {
			walk(c, childDepth)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func quote(s string) string {
	return fmt.Sprintf("%q", strings.Join(strings.Fields(s), " "))
}
