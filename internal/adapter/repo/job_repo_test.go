package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"echoes/internal/domain"
	"echoes/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubDB struct {
	execs    []execCall
	execTag  pgconn.CommandTag
	execErr  error
	row      pgx.Row
	rows     pgx.Rows
	queryArg []any
}

func (s *stubDB) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return s.execTag, s.execErr
}

func (s *stubDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	s.queryArg = args
	return s.row
}

func (s *stubDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	s.queryArg = args
	return s.rows, nil
}

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type sliceRows struct {
	scans []func(dest ...any) error
	idx   int
}

func (r *sliceRows) Close() {}
func (r *sliceRows) Err() error { return nil }
func (r *sliceRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *sliceRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *sliceRows) Values() ([]any, error) { return nil, errors.New("not supported") }
func (r *sliceRows) RawValues() [][]byte { return nil }
func (r *sliceRows) Conn() *pgx.Conn { return nil }

func (r *sliceRows) Next() bool {
	if r.idx >= len(r.scans) {
		return false
	}
	r.idx++
	return true
}

func (r *sliceRows) Scan(dest ...any) error {
	return r.scans[r.idx-1](dest...)
}

func jobScanner(id string, created time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "image-to-video"
		*dest[2].(*string) = "abc123"
		*dest[3].(*string) = "COMPLETED"
		*dest[4].(*[]byte) = []byte(`["queued","done"]`)
		*dest[5].(*int) = 3
		*dest[6].(*[]byte) = []byte(`{"video_url":"https://cdn.example/v.mp4"}`)
		*dest[7].(*string) = ""
		*dest[8].(*string) = ""
		*dest[9].(*[]byte) = []byte(`{"video":"jobs/` + id + `/video.mp4"}`)
		*dest[10].(*time.Time) = created
		*dest[11].(*time.Time) = created
		return nil
	}
}

func TestPGCreateEncodesCollections(t *testing.T) {
	db := &stubDB{}
	r := NewJobRepository(db)
	now := time.Now()
	job := &domain.Job{ID: "j1", Kind: "text-to-video", Status: domain.JobStatusSubmitted, CreatedAt: now, UpdatedAt: now}

	if err := r.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("execs = %d", len(db.execs))
	}
	call := db.execs[0]
	if call.query != sqlinline.QJobInsert {
		t.Fatalf("unexpected query")
	}
	if call.args[4] != "[]" || call.args[9] != "{}" {
		t.Fatalf("collections = %v / %v", call.args[4], call.args[9])
	}
	if call.args[6].(*string) != nil {
		t.Fatalf("empty result should be NULL")
	}
}

func TestPGUpdateNotFound(t *testing.T) {
	db := &stubDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	r := NewJobRepository(db)
	err := r.Update(context.Background(), &domain.Job{ID: "missing", Status: domain.JobStatusFailed})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	db.execTag = pgconn.NewCommandTag("UPDATE 1")
	result := json.RawMessage(`{"video_url":"x"}`)
	if err := r.Update(context.Background(), &domain.Job{ID: "j1", Status: domain.JobStatusCompleted, ResultJSON: result}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := *db.execs[1].args[5].(*string); got != string(result) {
		t.Fatalf("result arg = %q", got)
	}
}

func TestPGGetByID(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &stubDB{row: simpleRow{scan: jobScanner("j1", created)}}
	r := NewJobRepository(db)

	job, err := r.GetByID(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.RequestID != "abc123" || job.Attempts != 3 {
		t.Fatalf("job = %+v", job)
	}
	if len(job.Logs) != 2 || job.Logs[1] != "done" {
		t.Fatalf("logs = %v", job.Logs)
	}
	if job.StorageKeys["video"] != "jobs/j1/video.mp4" {
		t.Fatalf("storage keys = %v", job.StorageKeys)
	}

	db.row = simpleRow{}
	if _, err := r.GetByID(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestPGListRecent(t *testing.T) {
	now := time.Now()
	db := &stubDB{rows: &sliceRows{scans: []func(dest ...any) error{
		jobScanner("j2", now),
		jobScanner("j1", now.Add(-time.Minute)),
	}}}
	r := NewJobRepository(db)

	jobs, err := r.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "j2" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if db.queryArg[0] != 50 {
		t.Fatalf("limit = %v, want default 50", db.queryArg[0])
	}
}

func TestPGFailInterrupted(t *testing.T) {
	db := &stubDB{execTag: pgconn.NewCommandTag("UPDATE 2")}
	n, err := NewJobRepository(db).FailInterrupted(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("FailInterrupted = %d, %v", n, err)
	}
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepositoryMemory()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		job := &domain.Job{ID: id, Kind: "text-to-video", Status: domain.JobStatusSubmitted, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := r.Create(ctx, job); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	if err := r.Create(ctx, &domain.Job{ID: "a"}); err == nil {
		t.Fatalf("duplicate id accepted")
	}

	got, err := r.GetByID(ctx, "b")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.Status = domain.JobStatusPolling
	got.Logs = []string{"working"}
	stored, _ := r.GetByID(ctx, "b")
	if stored.Status != domain.JobStatusSubmitted {
		t.Fatalf("stored job mutated through returned copy")
	}
	if err := r.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stored, _ = r.GetByID(ctx, "b")
	if stored.Status != domain.JobStatusPolling || stored.Logs[0] != "working" {
		t.Fatalf("update not applied: %+v", stored)
	}

	recent, _ := r.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("recent = %+v", recent)
	}
	if err := r.Update(ctx, &domain.Job{ID: "zzz"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update(missing) = %v", err)
	}
	if _, err := r.GetByID(ctx, "zzz"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID(missing) = %v", err)
	}
}
