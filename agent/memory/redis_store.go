package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/storyflow/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultMaxRetries = 10

// RedisStoreConfig configures RedisStore.
type RedisStoreConfig struct {
	KeyPrefix  string        // 默认 "storyflow:memory:"
	TTL        time.Duration // 0 表示不过期
	MaxRetries int           // WATCH 冲突后的最大重试次数，默认 10
}

// RedisStore 将工作记忆保存在 Redis 中。
// Update 使用 WATCH/MULTI 乐观事务，key 在读写之间被修改时重试。
type RedisStore struct {
	client redis.UniversalClient
	cfg    RedisStoreConfig
	logger *zap.Logger
}

func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "storyflow:memory:"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "working_memory_redis")),
	}
}

func (s *RedisStore) key(key string) string {
	return s.cfg.KeyPrefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get working memory: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis set working memory: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (string, error) {
	rkey := s.key(key)
	var next string
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rkey).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		next, err = fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, next, s.cfg.TTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, rkey)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("working memory write conflict, retrying", zap.String("key", key), zap.Int("attempt", attempt+1))
			continue
		}
		return "", err
	}
	return "", types.Errorf(types.ErrMemoryConflict, "working memory %s: too many concurrent writers", key).
		WithRetryable(true)
}
