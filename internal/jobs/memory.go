package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

type memoryEntry struct {
	job       Job
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Entries expire after the TTL and a
// janitor goroutine evicts them. Use RedisStore when more than one process
// serves status requests.
type MemoryStore struct {
	jobs map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
	mu   sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store and starts its janitor.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = constants.DefaultJobTTL
	}
	s := &MemoryStore{
		jobs: make(map[string]memoryEntry),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go s.janitor(constants.JobJanitorInterval)
	return s
}

func (s *MemoryStore) Set(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.SessionID] = memoryEntry{job: job, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[sessionID]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, ErrJobNotFound
	}
	job := e.job
	return &job, nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, sessionID)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Stop terminates the janitor.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				logger.WithField("evicted", n).Debug("evicted expired jobs")
			}
		}
	}
}

// sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.jobs {
		if !now.Before(e.expiresAt) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}
