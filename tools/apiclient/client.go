// Package apiclient is the JSON-over-HTTP client shared by the GitHub and Jira tools.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/storyflow/internal/tlsutil"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
)

// maxErrorBody 限制错误信息中回显的响应体长度。
const maxErrorBody = 512

// Config configures a Client.
type Config struct {
	Service string // 用于错误信息与日志，例如 "github"
	BaseURL string
	Headers map[string]string
	Timeout time.Duration // 默认 30s
	// HTTPClient overrides the hardened default client.
	HTTPClient *http.Client
}

// Client 发送 JSON 请求；任何非 2xx 响应都会作为 TOOL_FAILED 返回，
// 错误信息包含状态码与截断后的响应体。
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With(zap.String("component", cfg.Service+"_client")),
	}
}

// StatusError describes a non-2xx response.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Service, e.Status, e.Body)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Do sends body (if non-nil) as JSON and decodes a JSON response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.cfg.Service, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.cfg.Service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return types.Errorf(types.ErrToolFailed, "%s: %s %s: %s", c.cfg.Service, method, path, err.Error()).
			WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Service: c.cfg.Service, Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
		return types.NewError(types.ErrToolFailed, se.Error()).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500).
			WithCause(se)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return types.Errorf(types.ErrToolFailed, "%s: decode response: %s", c.cfg.Service, err.Error()).WithCause(err)
	}
	return nil
}
