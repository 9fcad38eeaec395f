package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"echoes/internal/domain"
	"echoes/internal/infra"
	"echoes/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a job repository on top of a marker-checked executor.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	logs, keys, err := encodeCollections(job)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, sqlinline.QJobInsert,
		job.ID,
		job.Kind,
		job.RequestID,
		string(job.Status),
		logs,
		job.Attempts,
		nullableJSON(job.ResultJSON),
		job.ErrorKind,
		job.ErrorMessage,
		keys,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Update persists the mutable fields of job.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.Job) error {
	logs, keys, err := encodeCollections(job)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, sqlinline.QJobUpdate,
		job.ID,
		job.RequestID,
		string(job.Status),
		logs,
		job.Attempts,
		nullableJSON(job.ResultJSON),
		job.ErrorKind,
		job.ErrorMessage,
		keys,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobGetByID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListRecent returns up to limit jobs, newest first.
func (r *JobRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QJobListRecent, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// FailInterrupted marks jobs left in flight by a previous process as failed.
func (r *JobRepositoryPG) FailInterrupted(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QJobFailInterrupted)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		logs   []byte
		result []byte
		keys   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.RequestID,
		&status,
		&logs,
		&job.Attempts,
		&result,
		&job.ErrorKind,
		&job.ErrorMessage,
		&keys,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &job.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
	}
	if len(result) > 0 {
		job.ResultJSON = json.RawMessage(result)
	}
	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &job.StorageKeys); err != nil {
			return nil, fmt.Errorf("decode storage keys: %w", err)
		}
	}
	return &job, nil
}

func encodeCollections(job *domain.Job) (string, string, error) {
	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}
	rawLogs, err := json.Marshal(logs)
	if err != nil {
		return "", "", fmt.Errorf("encode logs: %w", err)
	}
	keys := job.StorageKeys
	if keys == nil {
		keys = map[string]string{}
	}
	rawKeys, err := json.Marshal(keys)
	if err != nil {
		return "", "", fmt.Errorf("encode storage keys: %w", err)
	}
	return string(rawLogs), string(rawKeys), nil
}

func nullableJSON(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
