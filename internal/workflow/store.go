package workflow

import (
	"context"
	"sync"
	"time"
)

// Store persists step results, run outcomes and the per-instance lock.
type Store interface {
	Load(ctx context.Context, instance string, step Step) ([]byte, bool, error)
	Save(ctx context.Context, instance string, step Step, result []byte) error
	Acquire(ctx context.Context, instance, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, instance, owner string) error
	SetOutcome(ctx context.Context, instance string, outcome Outcome) error
	Outcome(ctx context.Context, instance string) (Outcome, bool, error)
}

// MemoryStore keeps everything in process. It suits the in-memory event bus
// and tests; results do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	results  map[string]map[Step][]byte
	locks    map[string]memoryLock
	outcomes map[string]Outcome
	now      func() time.Time
}

type memoryLock struct {
	owner   string
	expires time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:  make(map[string]map[Step][]byte),
		locks:    make(map[string]memoryLock),
		outcomes: make(map[string]Outcome),
		now:      time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, instance string, step Step) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[instance][step]
	return res, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, instance string, step Step, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results[instance] == nil {
		s.results[instance] = make(map[Step][]byte)
	}
	s.results[instance][step] = append([]byte(nil), result...)
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, instance, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if lock, held := s.locks[instance]; held && now.Before(lock.expires) {
		return false, nil
	}
	s.locks[instance] = memoryLock{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, instance, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, held := s.locks[instance]; held && lock.owner == owner {
		delete(s.locks, instance)
	}
	return nil
}

func (s *MemoryStore) SetOutcome(_ context.Context, instance string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[instance] = outcome
	return nil
}

func (s *MemoryStore) Outcome(_ context.Context, instance string) (Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[instance]
	return o, ok, nil
}
