package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"echoes/internal/domain"
	"echoes/internal/infra"
	"echoes/internal/jobs"
	"echoes/internal/middleware"
	"echoes/internal/queue"
	"echoes/internal/storage"
)

// maxBodyBytes leaves room for inline data URIs.
const maxBodyBytes = 16 << 20

// JobService is the tracker surface used by the job routes.
type JobService interface {
	Start(ctx context.Context, kind string, req queue.Request) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]domain.Job, error)
	Cancel(ctx context.Context, id string) error
	Active() int
}

// Checker performs stateless single-step status checks.
type Checker interface {
	Check(ctx context.Context, d *queue.Descriptor, apiKey, requestID string) (queue.Snapshot, error)
}

type App struct {
	Jobs     JobService
	Checker  Checker
	Registry *queue.Registry
	Logger   *infra.Logger
	// Files holds mirrored artifacts; nil disables archives.
	Files *storage.FileStore
	// StorageBaseURL is the public prefix of mirrored artifacts. Empty
	// disables storage URLs in responses.
	StorageBaseURL string
	Started        time.Time
}

func NewApp(svc JobService, checker Checker, registry *queue.Registry, logger *infra.Logger) *App {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &App{
		Jobs:     svc,
		Checker:  checker,
		Registry: registry,
		Logger:   logger,
		Started:  time.Now(),
	}
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Logs    []string `json:"logs,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// fail maps a service error to its HTTP status and error code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorBody{Code: code, Message: err.Error(), Logs: queue.LogsOf(err)}
	if status >= http.StatusInternalServerError {
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("code", code).
			Msg("request failed")
	}
	a.json(w, status, map[string]errorBody{"error": body})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrUnknownKind):
		return http.StatusNotFound, "unknown_kind"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrJobFinished):
		return http.StatusConflict, "job_finished"
	case errors.Is(err, jobs.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "canceled"
	}
	name := queue.KindName(err)
	switch name {
	case "invalid_input":
		return http.StatusBadRequest, name
	case "invalid_credential":
		return http.StatusUnauthorized, name
	case "timed_out":
		return http.StatusGatewayTimeout, name
	case "submission_failed", "protocol_violation", "job_failed", "result_unavailable", "malformed_result":
		return http.StatusBadGateway, name
	case "canceled":
		return http.StatusServiceUnavailable, name
	default:
		return http.StatusInternalServerError, name
	}
}

// apiKey reads the provider credential from the request body, X-Provider-Key
// or an "Authorization: Key <k>" header, in that order.
func apiKey(r *http.Request, fromBody string) string {
	if k := strings.TrimSpace(fromBody); k != "" {
		return k
	}
	if k := strings.TrimSpace(r.Header.Get("X-Provider-Key")); k != "" {
		return k
	}
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "Key") {
		return strings.TrimSpace(value)
	}
	return ""
}
