package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"echoes/internal/domain"
)

// JobRepositoryMemory keeps jobs in process memory. It is the default store
// when no database is configured.
type JobRepositoryMemory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{jobs: map[string]*domain.Job{}}
}

func (r *JobRepositoryMemory) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepositoryMemory) Update(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; !exists {
		return domain.ErrNotFound
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepositoryMemory) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *JobRepositoryMemory) ListRecent(_ context.Context, limit int) ([]domain.Job, error) {
	r.mu.RLock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ domain.JobRepository = (*JobRepositoryMemory)(nil)
	_ domain.JobRepository = (*JobRepositoryPG)(nil)
)
