package queue

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type reply struct {
	code int
	body string
}

// fakeQueue is a scripted queue endpoint. Status replies are consumed in
// order; the last one repeats.
type fakeQueue struct {
	mu sync.Mutex

	submit   reply
	statuses []reply
	result   reply

	submits   int
	polls     int
	results   int
	auth      []string
	submitted map[string]any
}

func newFakeQueue(t *testing.T, q *fakeQueue) *httptest.Server {
	t.Helper()
	if q.submit.code == 0 {
		q.submit = reply{http.StatusOK, `{"request_id":"req-1"}`}
	}
	if q.result.code == 0 {
		q.result = reply{http.StatusOK, `{"video":{"url":"https://cdn.example/out.mp4"}}`}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.auth = append(q.auth, r.Header.Get("Authorization"))

		var out reply
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fal-ai/test":
			q.submits++
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &q.submitted)
			out = q.submit
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/status"):
			q.polls++
			idx := q.polls - 1
			if idx >= len(q.statuses) {
				idx = len(q.statuses) - 1
			}
			out = q.statuses[idx]
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/fal-ai/test/requests/"):
			q.results++
			out = q.result
		default:
			out = reply{http.StatusTeapot, `unexpected`}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(out.code)
		_, _ = io.WriteString(w, out.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (q *fakeQueue) counts() (submits, polls, results int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits, q.polls, q.results
}

func (q *fakeQueue) payload(key string) any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted[key]
}

func testDescriptor(base string) *Descriptor {
	model := base + "/fal-ai/test"
	return &Descriptor{
		Kind:      "image-to-video",
		SubmitURL: model,
		StatusURL: func(id string) string { return model + "/requests/" + id + "/status" },
		ResultURL: func(id string) string { return model + "/requests/" + id },
		BuildPayload: func(req Request) (map[string]any, error) {
			if s, _ := req.Input["image_url"].(string); s == "" {
				return nil, InvalidInput("image_url is required")
			}
			out := map[string]any{}
			for k, v := range req.Input {
				out[k] = v
			}
			return out, nil
		},
		ExtractArtifact: func(body []byte) (Artifact, error) {
			var v struct {
				Video *struct {
					URL string `json:"url"`
				} `json:"video"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return Artifact{}, MalformedResult("decode result: %v", err)
			}
			if v.Video == nil || v.Video.URL == "" {
				return Artifact{}, MalformedResult("video.url is missing")
			}
			return Artifact{VideoURL: v.Video.URL}, nil
		},
		PollInterval:  time.Millisecond,
		MaxAttempts:   100,
		GraceAttempts: 10,
	}
}

func testRequest() Request {
	return Request{
		APIKey: "k-123",
		Input:  map[string]any{"image_url": "https://img.example/cat.png", "prompt": "cat"},
	}
}

func repeat(r reply, n int) []reply {
	out := make([]reply, n)
	for i := range out {
		out[i] = r
	}
	return out
}

var (
	inProgress = reply{http.StatusOK, `{"status":"IN_PROGRESS","logs":[{"message":"working"}]}`}
	completed  = reply{http.StatusOK, `{"status":"COMPLETED"}`}
	notFound   = reply{http.StatusNotFound, `{"detail":"Request not found"}`}
)
