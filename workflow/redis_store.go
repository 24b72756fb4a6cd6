package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSuspendStore keeps suspended runs in Redis. Each run is one key whose
// TTL matches the state's expiry, so Redis evicts stale runs on its own.
type RedisSuspendStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisSuspendStore creates a store using client. An empty prefix
// defaults to "storyflow:".
func NewRedisSuspendStore(client redis.UniversalClient, keyPrefix string) *RedisSuspendStore {
	if keyPrefix == "" {
		keyPrefix = "storyflow:"
	}
	return &RedisSuspendStore{client: client, keyPrefix: keyPrefix + "suspended:"}
}

func (s *RedisSuspendStore) key(runID string) string {
	return s.keyPrefix + runID
}

// Save persists state with a TTL derived from ExpiresAt.
func (s *RedisSuspendStore) Save(ctx context.Context, state *SuspendedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal suspended state: %w", err)
	}

	var ttl time.Duration
	if !state.ExpiresAt.IsZero() {
		ttl = time.Until(state.ExpiresAt)
		if ttl <= 0 {
			return ErrRunExpired
		}
	}
	if err := s.client.Set(ctx, s.key(state.RunID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save suspended run: %w", err)
	}
	return nil
}

// Get returns the state for runID.
func (s *RedisSuspendStore) Get(ctx context.Context, runID string) (*SuspendedState, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load suspended run: %w", err)
	}
	return decodeSuspended(data)
}

// Take reads and deletes the key in one MULTI/EXEC transaction.
func (s *RedisSuspendStore) Take(ctx context.Context, runID string) (*SuspendedState, error) {
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, s.key(runID))
		pipe.Del(ctx, s.key(runID))
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take suspended run: %w", err)
	}
	data, err := get.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read suspended run: %w", err)
	}
	return decodeSuspended(data)
}

func decodeSuspended(data []byte) (*SuspendedState, error) {
	var st SuspendedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suspended state: %w", err)
	}
	if st.Expired(time.Now()) {
		return nil, ErrRunExpired
	}
	return &st, nil
}
