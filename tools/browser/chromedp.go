package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config 浏览器配置
type Config struct {
	// RemoteURL 连接已运行的浏览器（ws://host:9222），为空时启动本地无头 Chrome
	RemoteURL      string        `json:"remote_url" yaml:"remote_url"`
	Headless       bool          `json:"headless" yaml:"headless"`
	ViewportWidth  int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `json:"viewport_height" yaml:"viewport_height"`
	UserAgent      string        `json:"user_agent" yaml:"user_agent"`
	ProxyURL       string        `json:"proxy_url" yaml:"proxy_url"`
	PageTimeout    time.Duration `json:"page_timeout" yaml:"page_timeout"`
	// MaxTabs 限制同时打开的标签页数量
	MaxTabs int `json:"max_tabs" yaml:"max_tabs"`
}

// DefaultConfig 默认浏览器配置
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		PageTimeout:    60 * time.Second,
		MaxTabs:        2,
	}
}

// ChromeDriver 基于 chromedp 的 Driver 实现。浏览器进程在首次使用时启动，
// 每次 Snapshot 打开一个新标签页并在结束时关闭。
type ChromeDriver struct {
	config Config
	logger *zap.Logger
	tabs   chan struct{}

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	closeFn     context.CancelFunc
	closed      bool
}

// NewChromeDriver 创建 chromedp 驱动，浏览器延迟到第一次调用时启动
func NewChromeDriver(config Config, logger *zap.Logger) *ChromeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.ViewportWidth <= 0 || config.ViewportHeight <= 0 {
		config.ViewportWidth, config.ViewportHeight = def.ViewportWidth, def.ViewportHeight
	}
	if config.PageTimeout <= 0 {
		config.PageTimeout = def.PageTimeout
	}
	if config.MaxTabs <= 0 {
		config.MaxTabs = def.MaxTabs
	}
	return &ChromeDriver{
		config: config,
		logger: logger.With(zap.String("component", "chromedp_driver")),
		tabs:   make(chan struct{}, config.MaxTabs),
	}
}

func (d *ChromeDriver) browser() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("browser driver is closed")
	}
	if d.browserCtx != nil {
		return d.browserCtx, nil
	}

	if d.config.RemoteURL != "" {
		d.allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.config.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", d.config.Headless),
			chromedp.WindowSize(d.config.ViewportWidth, d.config.ViewportHeight),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if d.config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(d.config.UserAgent))
		}
		if d.config.ProxyURL != "" {
			opts = append(opts, chromedp.ProxyServer(d.config.ProxyURL))
		}
		d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	ctx, cancel := chromedp.NewContext(d.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			d.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	// 启动浏览器
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		d.allocCancel()
		d.allocCtx, d.allocCancel = nil, nil
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	d.browserCtx, d.closeFn = ctx, cancel

	d.logger.Info("chromedp browser started",
		zap.Bool("remote", d.config.RemoteURL != ""),
		zap.Bool("headless", d.config.Headless),
		zap.Int("viewport_w", d.config.ViewportWidth),
		zap.Int("viewport_h", d.config.ViewportHeight))
	return ctx, nil
}

// Snapshot 打开页面并获取内容
func (d *ChromeDriver) Snapshot(ctx context.Context, pageURL string, grab Grab) (*Snapshot, error) {
	select {
	case d.tabs <- struct{}{}:
		defer func() { <-d.tabs }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	browserCtx, err := d.browser()
	if err != nil {
		return nil, err
	}
	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, d.config.PageTimeout)
	defer cancel()
	// 调用方取消时同时关闭标签页
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	snap := &Snapshot{}
	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
	}
	switch grab {
	case GrabAria:
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			nodes, err := accessibility.GetFullAXTree().Do(ctx)
			if err != nil {
				return err
			}
			snap.Aria = convertAXTree(nodes)
			return nil
		}))
	case GrabContent:
		actions = append(actions, chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery))
	case GrabScreenshot:
		actions = append(actions, chromedp.FullScreenshot(&snap.Screenshot, 90))
	default:
		return nil, fmt.Errorf("unsupported grab: %s", grab)
	}

	d.logger.Debug("navigating", zap.String("url", pageURL), zap.String("grab", string(grab)))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return snap, nil
}

// Close 关闭浏览器
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.closeFn != nil {
		d.logger.Info("closing chromedp browser")
		d.closeFn()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

func convertAXTree(nodes []*accessibility.Node) []AXNode {
	out := make([]AXNode, 0, len(nodes))
	for _, n := range nodes {
		ax := AXNode{
			ID:       string(n.NodeID),
			ParentID: string(n.ParentID),
			Ignored:  n.Ignored,
			Role:     axValue(n.Role),
			Name:     axValue(n.Name),
			Value:    axValue(n.Value),
		}
		for _, c := range n.ChildIDs {
			ax.Children = append(ax.Children, string(c))
		}
		out = append(out, ax)
	}
	return out
}

// axValue 提取 AX 属性的字符串值；非字符串值按 JSON 文本返回。
func axValue(v *accessibility.Value) string {
	if v == nil || len(v.Value) == 0 {
		return ""
	}
	raw := []byte(v.Value)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
