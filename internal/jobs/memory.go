package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/gym-scheduler/internal/db"
)

// MemoryStore is an in-memory Store for tests and single-shot CLI use.
// Jobs are copied on the way in and out so callers can never mutate
// stored state except through the Store methods.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return db.WrapStore(fmt.Errorf("job %s already exists", j.ID))
	}
	s.jobs[j.ID] = clone(j)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, clone(j))
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if (j.Status == StatusPending || j.Status == StatusRetry) && !j.NextDueAt.After(now) {
			out = append(out, clone(j))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[j.ID]
	if !ok {
		return db.ErrNotFound
	}
	cur.Status = j.Status
	cur.FailedCount = j.FailedCount
	cur.NextDueAt = j.NextDueAt
	cur.UpdatedAt = j.UpdatedAt
	return nil
}

func (s *MemoryStore) AppendResult(ctx context.Context, jobID string, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return db.ErrNotFound
	}
	j.Results = append(j.Results, r)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func clone(j *Job) *Job {
	c := *j
	if j.Area != nil {
		a := *j.Area
		c.Area = &a
	}
	if j.WindowEndAt != nil {
		w := *j.WindowEndAt
		c.WindowEndAt = &w
	}
	c.Results = append([]Result(nil), j.Results...)
	return &c
}

func sortByCreation(js []*Job) {
	sort.Slice(js, func(a, b int) bool {
		if js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].ID < js[b].ID
		}
		return js[a].CreatedAt.Before(js[b].CreatedAt)
	})
}
