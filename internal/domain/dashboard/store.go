package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/ehr/clinic-live/pkg/bounded"
)

// StatsRepository computes the current dashboard figures.
type StatsRepository interface {
	Stats(ctx context.Context) (Stats, error)
}

// ActivityStore persists the activity feed.
type ActivityStore interface {
	Record(ctx context.Context, a Activity) error
	// List returns entries newest first and the total count.
	List(ctx context.Context, offset, limit int) ([]Activity, int, error)
}

// MemoryStore is the StatsRepository and ActivityStore used when no
// database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	stats    Stats
	activity *bounded.List[Activity]
	now      func() time.Time
}

func NewMemoryStore(maxActivity int) *MemoryStore {
	if maxActivity <= 0 {
		maxActivity = 1000
	}
	return &MemoryStore{activity: bounded.New[Activity](maxActivity), now: time.Now}
}

// SetStats replaces the figures returned by Stats.
func (s *MemoryStore) SetStats(st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
}

func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.UpdatedAt = s.now().UTC()
	return st, nil
}

func (s *MemoryStore) Record(_ context.Context, a Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity.Push(a)
	return nil
}

func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]Activity, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.activity.Newest()
	total := len(all)
	if offset >= total {
		return []Activity{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}
