package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/BaSui01/storyflow/llm/circuitbreaker"
	"go.uber.org/zap"
)

// ResilienceObserver 接收重试与熔断事件，metrics.Collector 实现了该接口。
type ResilienceObserver interface {
	LLMRetried(provider string)
	BreakerStateChanged(provider string, state circuitbreaker.State)
}

// ResilienceConfig 弹性 Provider 配置
type ResilienceConfig struct {
	// MaxRetries 可重试错误的最大重试次数
	MaxRetries int
	// InitialDelay 首次重试前的等待
	InitialDelay time.Duration
	// MaxDelay 退避上限
	MaxDelay time.Duration
	// BackoffFactor 指数退避因子
	BackoffFactor float64

	// Breaker 为 nil 时不启用熔断
	Breaker *circuitbreaker.Config
}

// DefaultResilienceConfig 返回默认配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:    2,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Breaker:       circuitbreaker.DefaultConfig(),
	}
}

// ResilientProvider 为 Provider 增加指数退避重试与熔断。
// 熔断器包在每一次尝试外面，打开后剩余的重试立即失败。
type ResilientProvider struct {
	inner    Provider
	cfg      ResilienceConfig
	breaker  circuitbreaker.CircuitBreaker
	observer ResilienceObserver
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ Provider = (*ResilientProvider)(nil)

// NewResilientProvider 包装 inner；observer 可以为 nil。
func NewResilientProvider(inner Provider, cfg ResilienceConfig, observer ResilienceObserver, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}

	rp := &ResilientProvider{
		inner:    inner,
		cfg:      cfg,
		observer: observer,
		logger:   logger.With(zap.String("component", "resilient_provider"), zap.String("provider", inner.Name())),
		sleep:    sleepContext,
	}
	if cfg.Breaker != nil {
		bc := *cfg.Breaker
		bc.IsFailure = IsUpstreamFailure
		bc.OnStateChange = rp.onStateChange
		rp.breaker = circuitbreaker.NewCircuitBreaker(&bc, logger)
	}
	return rp
}

// Name 实现 Provider.Name
func (rp *ResilientProvider) Name() string { return rp.inner.Name() }

// BreakerState 返回熔断器状态；未启用熔断时总是 StateClosed。
func (rp *ResilientProvider) BreakerState() circuitbreaker.State {
	if rp.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return rp.breaker.State()
}

// Completion 实现 Provider.Completion
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= rp.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := rp.delay(attempt)
			rp.logger.Debug("retrying completion",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if rp.observer != nil {
				rp.observer.LLMRetried(rp.Name())
			}
			if err := rp.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := rp.call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
			return nil, &Error{
				Code:       ErrModelOverloaded,
				Message:    "provider circuit open",
				HTTPStatus: http.StatusServiceUnavailable,
				Retryable:  true,
				Provider:   rp.Name(),
			}
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		rp.logger.Warn("completion failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("completion failed after %d retries: %w", rp.cfg.MaxRetries, lastErr)
}

func (rp *ResilientProvider) call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if rp.breaker == nil {
		return rp.inner.Completion(ctx, req)
	}
	return circuitbreaker.Execute(ctx, rp.breaker, func(ctx context.Context) (*ChatResponse, error) {
		return rp.inner.Completion(ctx, req)
	})
}

func (rp *ResilientProvider) delay(attempt int) time.Duration {
	d := float64(rp.cfg.InitialDelay) * math.Pow(rp.cfg.BackoffFactor, float64(attempt-1))
	if d > float64(rp.cfg.MaxDelay) {
		d = float64(rp.cfg.MaxDelay)
	}
	return time.Duration(d)
}

func (rp *ResilientProvider) onStateChange(from, to circuitbreaker.State) {
	rp.logger.Info("circuit state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if rp.observer != nil {
		rp.observer.BreakerStateChanged(rp.Name(), to)
	}
}

// IsRetryable 判断错误是否值得重试：带 Retryable 标记的 *Error，
// 以及非 *Error 的传输层错误。
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return !errors.Is(err, context.Canceled)
}

// IsUpstreamFailure 判断错误是否说明上游不健康，用于熔断计数。
// 参数错误、鉴权失败和额度问题都不计入。
func IsUpstreamFailure(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case ErrInvalidRequest, ErrUnauthorized, ErrForbidden, ErrQuotaExceeded:
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
