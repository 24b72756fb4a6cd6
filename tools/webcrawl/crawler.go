package webcrawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/storyflow/internal/cache"
	"github.com/BaSui01/storyflow/internal/tlsutil"
	"github.com/BaSui01/storyflow/tools/apiclient"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxPages    = 50
	DefaultConcurrency = 4
	DefaultCacheTTL    = time.Hour
	maxBodyBytes       = 5 << 20
	userAgent          = "storyflow-crawler/1.0"
)

// PageCache 缓存抓取过的页面；cache.Manager 满足该接口。
type PageCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CrawlerConfig 配置 Crawler。
type CrawlerConfig struct {
	MaxPages    int
	Concurrency int
	CacheTTL    time.Duration
	Timeout     time.Duration
	// HTTPClient 仅用于测试。
	HTTPClient *http.Client
}

// Crawler 从起始页按广度优先抓取同一主机下的页面。
type Crawler struct {
	cfg    CrawlerConfig
	http   *http.Client
	cache  PageCache
	logger *zap.Logger
}

// NewCrawler creates a crawler. pageCache may be nil.
func NewCrawler(cfg CrawlerConfig, pageCache PageCache, logger *zap.Logger) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:    cfg,
		http:   client,
		cache:  pageCache,
		logger: logger.With(zap.String("component", "web_crawler")),
	}
}

// FailedPage 记录抓取失败但未中止整个爬取的子页面。
type FailedPage struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type CrawlResult struct {
	Pages  []*Page      `json:"pages"`
	Failed []FailedPage `json:"failed,omitempty"`
}

// Crawl fetches start and follows same-host links until depth levels below it
// have been visited or MaxPages is reached. A failure on the start page is
// returned as an error; failures on linked pages are reported in Failed.
func (c *Crawler) Crawl(ctx context.Context, start string, depth int) (*CrawlResult, error) {
	startURL, err := url.Parse(start)
	if err != nil || (startURL.Scheme != "http" && startURL.Scheme != "https") || startURL.Host == "" {
		return nil, types.Errorf(types.ErrToolValidation, "invalid url %q", start)
	}
	startURL.Fragment = ""
	host := startURL.Hostname()

	first, err := c.Fetch(ctx, startURL.String())
	if err != nil {
		return nil, err
	}
	result := &CrawlResult{Pages: []*Page{first}}
	visited := map[string]bool{startURL.String(): true}

	frontier := first.Links
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []string
		for _, link := range frontier {
			u, err := url.Parse(link)
			if err != nil || u.Hostname() != host || visited[link] {
				continue
			}
			if len(visited) >= c.cfg.MaxPages {
				break
			}
			visited[link] = true
			next = append(next, link)
		}
		if len(next) == 0 {
			break
		}

		pages := make([]*Page, len(next))
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for i, link := range next {
			g.Go(func() error {
				page, err := c.Fetch(gctx, link)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					mu.Lock()
					result.Failed = append(result.Failed, FailedPage{URL: link, Error: err.Error()})
					mu.Unlock()
					c.logger.Warn("page fetch failed", zap.String("url", link), zap.Error(err))
					return nil
				}
				pages[i] = page
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		frontier = nil
		for _, p := range pages {
			if p == nil {
				continue
			}
			result.Pages = append(result.Pages, p)
			frontier = append(frontier, p.Links...)
		}
	}

	c.logger.Info("crawl finished",
		zap.String("url", start),
		zap.Int("depth", depth),
		zap.Int("pages", len(result.Pages)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// Fetch downloads one page, consulting the page cache first.
func (c *Crawler) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	key := cacheKey(pageURL)
	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, key); err == nil {
			var page Page
			if json.Unmarshal([]byte(raw), &page) == nil {
				return &page, nil
			}
		} else if !cache.IsCacheMiss(err) {
			c.logger.Warn("page cache read failed", zap.Error(err))
		}
	}

	page, err := c.download(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(page); err == nil {
			if err := c.cache.Set(ctx, key, string(data), c.cfg.CacheTTL); err != nil {
				c.logger.Warn("page cache write failed", zap.Error(err))
			}
		}
	}
	return page, nil
}

func (c *Crawler) download(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrToolValidation, "invalid url %q", pageURL).WithCause(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFailed, "fetch %s: %s", pageURL, err.Error()).
			WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &apiclient.StatusError{Service: "web", Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
		return nil, types.Errorf(types.ErrToolFailed, "fetch %s: %s", pageURL, se.Error()).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500).
			WithCause(se)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	final := resp.Request.URL
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, types.Errorf(types.ErrToolFailed, "read %s: %s", pageURL, err.Error()).WithCause(err)
		}
		return &Page{URL: final.String(), Text: strings.TrimSpace(string(data))}, nil
	}

	page, err := ParseHTML(final, body)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFailed, "parse %s: %s", pageURL, err.Error()).WithCause(err)
	}
	return page, nil
}

func cacheKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return fmt.Sprintf("page:%s", hex.EncodeToString(sum[:]))
}
