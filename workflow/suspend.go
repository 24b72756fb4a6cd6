package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrRunNotFound is returned by stores for unknown run ids.
	ErrRunNotFound = errors.New("suspended run not found")
	// ErrRunExpired is returned by stores for runs past their TTL.
	ErrRunExpired = errors.New("suspended run expired")
)

// PendingStep is a child of the suspended node waiting for resume input.
type PendingStep struct {
	StepID  string          `json:"step_id"`
	Input   json.RawMessage `json:"input,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SuspendedState is everything needed to continue a paused run.
type SuspendedState struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	// StepID and Payload describe the first pending step, for display.
	StepID  string          `json:"step_id"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Cursor is the index of the suspended node; NodeInput the payload it received.
	Cursor    int                        `json:"cursor"`
	NodeInput json.RawMessage            `json:"node_input,omitempty"`
	Pending   map[string]PendingStep     `json:"pending"`
	Completed map[string]json.RawMessage `json:"completed,omitempty"`

	Runtime   RuntimeContext  `json:"runtime,omitempty"`
	Steps     []StepRecord    `json:"steps,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the state is past its expiry at now.
func (s *SuspendedState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SuspendStore persists suspended runs.
type SuspendStore interface {
	Save(ctx context.Context, state *SuspendedState) error
	// Get returns the state without removing it.
	Get(ctx context.Context, runID string) (*SuspendedState, error)
	// Take loads and deletes the state atomically, so a run resumes at most once.
	Take(ctx context.Context, runID string) (*SuspendedState, error)
}

// MemorySuspendStore keeps suspended runs in process memory.
// Expired entries are purged by Sweep; their ids are remembered for one more
// TTL period so late resumes report ErrRunExpired instead of ErrRunNotFound.
type MemorySuspendStore struct {
	mu       sync.Mutex
	states   map[string]*SuspendedState
	expired  map[string]time.Time
	now      func() time.Time
	logger   *zap.Logger
	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemorySuspendStore creates an in-memory store.
func NewMemorySuspendStore(logger *zap.Logger) *MemorySuspendStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemorySuspendStore{
		states:  make(map[string]*SuspendedState),
		expired: make(map[string]time.Time),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "suspend_store")),
		stop:    make(chan struct{}),
	}
}

// Save stores a copy of state.
func (s *MemorySuspendStore) Save(_ context.Context, state *SuspendedState) error {
	cp := *state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RunID] = &cp
	delete(s.expired, state.RunID)
	return nil
}

// Get returns the state for runID.
func (s *MemorySuspendStore) Get(_ context.Context, runID string) (*SuspendedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.lookupLocked(runID)
	if err != nil {
		return nil, err
	}
	cp := *st
	return &cp, nil
}

// Take removes and returns the state for runID.
func (s *MemorySuspendStore) Take(_ context.Context, runID string) (*SuspendedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.lookupLocked(runID)
	if err != nil {
		return nil, err
	}
	delete(s.states, runID)
	return st, nil
}

func (s *MemorySuspendStore) lookupLocked(runID string) (*SuspendedState, error) {
	now := s.now()
	st, ok := s.states[runID]
	if !ok {
		if _, gone := s.expired[runID]; gone {
			return nil, ErrRunExpired
		}
		return nil, ErrRunNotFound
	}
	if st.Expired(now) {
		s.expireLocked(st, now)
		return nil, ErrRunExpired
	}
	return st, nil
}

func (s *MemorySuspendStore) expireLocked(st *SuspendedState, now time.Time) {
	delete(s.states, st.RunID)
	ttl := st.ExpiresAt.Sub(st.CreatedAt)
	s.expired[st.RunID] = now.Add(ttl)
}

// Sweep purges expired runs and forgets old tombstones. It returns the number
// of runs purged.
func (s *MemorySuspendStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for _, st := range s.states {
		if st.Expired(now) {
			s.expireLocked(st, now)
			purged++
		}
	}
	for id, forgetAt := range s.expired {
		if !now.Before(forgetAt) {
			delete(s.expired, id)
		}
	}
	if purged > 0 {
		s.logger.Info("purged expired suspended runs", zap.Int("count", purged))
	}
	return purged
}

// StartSweeper runs Sweep every interval until ctx is done or Close is called.
func (s *MemorySuspendStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Len returns the number of live suspended runs.
func (s *MemorySuspendStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Close stops the sweeper.
func (s *MemorySuspendStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
