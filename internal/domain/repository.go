package domain

import "context"

// JobRepository defines persistence for tracked jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListRecent(ctx context.Context, limit int) ([]Job, error)
}
