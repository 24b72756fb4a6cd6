package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InMemoryStore 是进程内的工作记忆存储，适合本地开发和测试。
// 每个 key 一把锁，Update 在锁内完成读取-计算-写入。
type InMemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	locks  map[string]*sync.Mutex
	logger *zap.Logger
}

func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		values: make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
		logger: logger.With(zap.String("component", "working_memory_inmemory")),
	}
}

func (s *InMemoryStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *InMemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	current, exists := s.values[key]
	s.mu.Unlock()

	next, err := fn(current, exists)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.values[key] = next
	s.mu.Unlock()
	s.logger.Debug("working memory updated", zap.String("key", key), zap.Int("bytes", len(next)))
	return next, nil
}
