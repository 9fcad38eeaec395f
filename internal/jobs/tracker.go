package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"echoes/internal/domain"
	"echoes/internal/infra"
	"echoes/internal/queue"
)

var (
	// ErrJobCancelled is the cancellation cause of a job stopped through Cancel.
	ErrJobCancelled = fmt.Errorf("job cancelled: %w", context.Canceled)
	// ErrShuttingDown is the cancellation cause of jobs stopped by Shutdown.
	ErrShuttingDown = fmt.Errorf("service shutting down: %w", context.Canceled)
	// ErrClosed is returned by Start once Shutdown has begun.
	ErrClosed = errors.New("tracker is shut down")
)

// Runner is the part of queue.Client the tracker drives.
type Runner interface {
	Submit(ctx context.Context, d *queue.Descriptor, req queue.Request) (queue.Handle, error)
	Await(ctx context.Context, h queue.Handle, apiKey string, observe queue.Observer) (*queue.Result, error)
}

// Catalog resolves job kinds to descriptors.
type Catalog interface {
	Lookup(kind string) (*queue.Descriptor, error)
}

// Tracker runs queue jobs in the background and records their progress.
// Runs are bound to the tracker's lifetime, not to the caller's context.
type Tracker struct {
	runner  Runner
	catalog Catalog
	repo    domain.JobRepository
	mirror  *Mirror
	logger  *infra.Logger
	now     func() time.Time

	base context.Context
	stop context.CancelCauseFunc
	runs *haxmap.Map[string, context.CancelCauseFunc]

	// mu guards closed and wg.Add against a concurrent Shutdown.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// TrackerOption customises a Tracker.
type TrackerOption func(t *Tracker)

func WithMirror(m *Mirror) TrackerOption {
	return func(t *Tracker) {
		t.mirror = m
	}
}

func WithLogger(l *infra.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(runner Runner, catalog Catalog, repo domain.JobRepository, opts ...TrackerOption) *Tracker {
	discard := zerolog.New(io.Discard)
	l := infra.Logger(discard)
	base, stop := context.WithCancelCause(context.Background())
	t := &Tracker{
		runner:  runner,
		catalog: catalog,
		repo:    repo,
		logger:  &l,
		now:     time.Now,
		base:    base,
		stop:    stop,
		runs:    haxmap.New[string, context.CancelCauseFunc](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start validates the request, records a SUBMITTED job and runs it in the
// background. Validation and credential problems are returned synchronously.
func (t *Tracker) Start(ctx context.Context, kind string, req queue.Request) (*domain.Job, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	d, err := t.catalog.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, &queue.Error{Kind: queue.ErrInvalidCredential, Op: "submit", JobKind: d.Kind, Detail: "api key is required"}
	}
	if _, err := d.BuildPayload(req); err != nil {
		var qe *queue.Error
		if errors.As(err, &qe) {
			qe.JobKind = d.Kind
			return nil, err
		}
		return nil, &queue.Error{Kind: queue.ErrInvalidInput, Op: "prepare", JobKind: d.Kind, Err: err}
	}

	now := t.now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Kind:      d.Kind,
		Status:    domain.JobStatusSubmitted,
		Logs:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		job.Status = domain.JobStatusCancelled
		job.ErrorKind = queue.KindName(ErrShuttingDown)
		job.ErrorMessage = ErrShuttingDown.Error()
		t.save(job)
		return nil, ErrClosed
	}
	runCtx, cancel := context.WithCancelCause(t.base)
	t.runs.Set(job.ID, cancel)
	t.wg.Add(1)
	t.mu.Unlock()
	go t.run(runCtx, cancel, job.Clone(), d, req)

	t.logger.Info().
		Str("job_id", job.ID).
		Str("kind", d.Kind).
		Object("input", req).
		Msg("job started")
	return job, nil
}

func (t *Tracker) run(ctx context.Context, cancel context.CancelCauseFunc, job *domain.Job, d *queue.Descriptor, req queue.Request) {
	defer t.wg.Done()
	defer t.runs.Del(job.ID)
	defer cancel(nil)

	handle, err := t.runner.Submit(ctx, d, req)
	if err != nil {
		t.finish(job, nil, err)
		return
	}
	job.RequestID = handle.RequestID
	job.Status = domain.JobStatusPolling
	t.save(job)

	res, err := t.runner.Await(ctx, handle, req.APIKey, func(s queue.Snapshot) {
		job.Logs = s.Logs
		job.Attempts = s.Attempt
		t.save(job)
	})
	if err == nil && t.mirror != nil {
		keys, mirrorErr := t.mirror.Store(ctx, job.ID, res.Artifact)
		if mirrorErr != nil {
			t.logger.Warn().Err(mirrorErr).Str("job_id", job.ID).Msg("artifact mirror incomplete")
		}
		job.StorageKeys = keys
	}
	t.finish(job, res, err)
}

func (t *Tracker) finish(job *domain.Job, res *queue.Result, err error) {
	switch {
	case err == nil:
		job.Status = domain.JobStatusCompleted
		job.Logs = res.Logs
		job.Attempts = res.Attempts
		raw, marshalErr := json.Marshal(res.Artifact)
		if marshalErr != nil {
			job.Status = domain.JobStatusFailed
			job.ErrorKind = "internal"
			job.ErrorMessage = marshalErr.Error()
			break
		}
		job.ResultJSON = raw
	case errors.Is(err, context.Canceled):
		job.Status = domain.JobStatusCancelled
	case errors.Is(err, queue.ErrTimedOut):
		job.Status = domain.JobStatusTimedOut
	default:
		job.Status = domain.JobStatusFailed
	}
	if err != nil {
		job.ErrorKind = queue.KindName(err)
		job.ErrorMessage = err.Error()
		if logs := queue.LogsOf(err); logs != nil {
			job.Logs = logs
		}
	}
	if job.Logs == nil {
		job.Logs = []string{}
	}
	t.save(job)

	event := t.logger.Info()
	if job.Status != domain.JobStatusCompleted {
		event = t.logger.Warn().Err(err)
	}
	event.
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Str("request_id", job.RequestID).
		Str("status", string(job.Status)).
		Int("attempts", job.Attempts).
		Msg("job finished")
}

// save persists job on a context detached from the run, so the terminal
// state is recorded even after cancellation.
func (t *Tracker) save(job *domain.Job) {
	job.UpdatedAt = t.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.Update(ctx, job); err != nil {
		t.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist job")
	}
}

// Get returns the recorded state of a job.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.Job, error) {
	return t.repo.GetByID(ctx, id)
}

// List returns recent jobs, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]domain.Job, error) {
	return t.repo.ListRecent(ctx, limit)
}

// Cancel stops a running job. The job records CANCELLED once its run exits.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	if cancel, ok := t.runs.Get(id); ok {
		cancel(ErrJobCancelled)
		return nil
	}
	if _, err := t.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrJobFinished
}

// Active reports the number of runs in flight.
func (t *Tracker) Active() int {
	return int(t.runs.Len())
}

// Shutdown cancels every run and waits for them to record their final state.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.stop(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker shutdown: %w", ctx.Err())
	}
}
