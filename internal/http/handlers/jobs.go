package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"echoes/internal/domain"
	"echoes/internal/middleware"
	"echoes/internal/queue"
	"echoes/internal/storage"
	"echoes/pkg/zip"
)

type startJobRequest struct {
	Input  map[string]any `json:"input"`
	APIKey string         `json:"api_key"`
}

type kindResponse struct {
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	PollIntervalMS int64  `json:"poll_interval_ms"`
	MaxAttempts    int    `json:"max_attempts"`
	GraceAttempts  int    `json:"grace_attempts"`
}

// jobResponse adds public storage URLs to a job record.
type jobResponse struct {
	*domain.Job
	StorageURLs map[string]string `json:"storage_urls,omitempty"`
}

func (a *App) jobView(job *domain.Job) jobResponse {
	view := jobResponse{Job: job}
	if a.StorageBaseURL != "" && len(job.StorageKeys) > 0 {
		view.StorageURLs = make(map[string]string, len(job.StorageKeys))
		for name, key := range job.StorageKeys {
			view.StorageURLs[name] = storage.URL(a.StorageBaseURL, key)
		}
	}
	return view
}

func (a *App) ListKinds(w http.ResponseWriter, r *http.Request) {
	descriptors := a.Registry.Descriptors()
	items := make([]kindResponse, 0, len(descriptors))
	for _, d := range descriptors {
		items = append(items, kindResponse{
			Kind:           d.Kind,
			Title:          d.Title,
			PollIntervalMS: d.PollInterval.Milliseconds(),
			MaxAttempts:    d.MaxAttempts,
			GraceAttempts:  d.GraceAttempts,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) StartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		if !errors.Is(err, io.EOF) {
			a.error(w, http.StatusBadRequest, "invalid_input", "invalid JSON payload")
			return
		}
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	job, err := a.Jobs.Start(r.Context(), chi.URLParam(r, "kind"), queue.Request{
		APIKey: apiKey(r, req.APIKey),
		Input:  req.Input,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	a.json(w, http.StatusAccepted, a.jobView(job))
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := a.Jobs.List(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]jobResponse, 0, len(list))
	for i := range list {
		items = append(items, a.jobView(&list[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.jobView(job))
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Jobs.Cancel(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// ArchiveJob streams the mirrored artifacts of a job as a zip file.
func (a *App) ArchiveJob(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact storage is not configured")
		return
	}
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(job.StorageKeys) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no stored artifacts")
		return
	}

	names := make([]string, 0, len(job.StorageKeys))
	for name := range job.StorageKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]zip.Entry, 0, len(names))
	for _, name := range names {
		key := job.StorageKeys[name]
		entries = append(entries, zip.Entry{
			Name:     path.Base(key),
			Modified: job.UpdatedAt,
			Open: func() (io.ReadCloser, error) {
				return a.Files.Open(key)
			},
		})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.zip"`)
	if err := zip.Write(w, entries); err != nil {
		// Headers are already sent; the client sees a truncated archive.
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("job_id", job.ID).
			Msg("archive write failed")
	}
}

// CheckRequest reports the current state of a request submitted elsewhere,
// without tracking it.
func (a *App) CheckRequest(w http.ResponseWriter, r *http.Request) {
	d, err := a.Registry.Lookup(chi.URLParam(r, "kind"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	snap, err := a.Checker.Check(r.Context(), d, apiKey(r, ""), chi.URLParam(r, "request_id"))
	if err != nil {
		var qe *queue.Error
		if !errors.As(err, &qe) && r.Context().Err() == nil {
			a.Logger.Warn().Err(err).Str("kind", d.Kind).Msg("status check unreachable")
			a.error(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
			return
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}
