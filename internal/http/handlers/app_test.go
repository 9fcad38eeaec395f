package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"echoes/internal/domain"
	"echoes/internal/jobs"
	"echoes/internal/queue"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		wantCode string
	}{
		{fmt.Errorf("lookup: %w", queue.ErrUnknownKind), http.StatusNotFound, "unknown_kind"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrJobFinished, http.StatusConflict, "job_finished"},
		{jobs.ErrClosed, http.StatusServiceUnavailable, "shutting_down"},
		{queue.InvalidInput("prompt is required"), http.StatusBadRequest, "invalid_input"},
		{&queue.Error{Kind: queue.ErrInvalidCredential}, http.StatusUnauthorized, "invalid_credential"},
		{&queue.Error{Kind: queue.ErrSubmissionFailed, StatusCode: 500}, http.StatusBadGateway, "submission_failed"},
		{&queue.Error{Kind: queue.ErrTimedOut}, http.StatusGatewayTimeout, "timed_out"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "canceled"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.wantCode {
			t.Errorf("classify(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.wantCode)
		}
	}
}

func TestAPIKeySources(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/jobs/text-to-video", nil)
	if got := apiKey(r, ""); got != "" {
		t.Fatalf("expected no key, got %q", got)
	}

	r.Header.Set("Authorization", "Key from-auth")
	if got := apiKey(r, ""); got != "from-auth" {
		t.Fatalf("authorization header: got %q", got)
	}

	r.Header.Set("X-Provider-Key", "from-header")
	if got := apiKey(r, ""); got != "from-header" {
		t.Fatalf("provider header: got %q", got)
	}

	if got := apiKey(r, " from-body "); got != "from-body" {
		t.Fatalf("body: got %q", got)
	}

	bearer := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer.Header.Set("Authorization", "Bearer token")
	if got := apiKey(bearer, ""); got != "" {
		t.Fatalf("bearer tokens are not provider keys, got %q", got)
	}
}

func TestErrorResponseCarriesLogs(t *testing.T) {
	app := NewApp(nil, nil, queue.NewRegistry(), nil)
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	app.fail(rr, r, &queue.Error{Kind: queue.ErrJobFailed, Detail: "nsfw", Logs: []string{"rejected"}})

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	want := `{"error":{"code":"job_failed","message":"queue: job failed: nsfw","logs":["rejected"]}}` + "\n"
	if rr.Body.String() != want {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	app := NewApp(nil, nil, queue.NewRegistry(), nil)
	rr := httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
