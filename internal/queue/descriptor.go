package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval  = 3 * time.Second
	DefaultMaxAttempts   = 100
	DefaultGraceAttempts = 10
)

// Descriptor is the static configuration of one job type. It holds no state
// and is never mutated once registered.
type Descriptor struct {
	Kind  string
	Title string

	SubmitURL string
	StatusURL func(requestID string) string
	ResultURL func(requestID string) string

	// BuildPayload maps user input onto the JSON body of the submit call.
	BuildPayload func(req Request) (map[string]any, error)
	// ExtractArtifact reads the authoritative result body. Missing required
	// fields must be reported with MalformedResult.
	ExtractArtifact func(body []byte) (Artifact, error)
	// AuthHeader returns the header carrying the credential. Nil means
	// "Authorization: Key <apiKey>".
	AuthHeader func(apiKey string) (name, value string)
	// Prepare optionally rewrites the request before submission, e.g. to
	// upload inline data. It runs at most once per submission.
	Prepare func(ctx context.Context, req Request) (Request, error)

	PollInterval time.Duration
	MaxAttempts  int
	// GraceAttempts is the number of leading polls for which a 404 from the
	// status endpoint is treated as "not indexed yet".
	GraceAttempts int
}

func (d *Descriptor) authHeader(apiKey string) (string, string) {
	if d.AuthHeader != nil {
		return d.AuthHeader(apiKey)
	}
	return KeyAuthHeader(apiKey)
}

// KeyAuthHeader is the "Authorization: Key <apiKey>" scheme used by queue APIs.
func KeyAuthHeader(apiKey string) (string, string) {
	return "Authorization", "Key " + apiKey
}

// Request is the per-invocation user input. APIKey is a credential: it is never
// logged or persisted.
type Request struct {
	APIKey string
	Input  map[string]any
}

// MarshalZerologObject logs the input field names only.
func (r Request) MarshalZerologObject(e *zerolog.Event) {
	fields := make([]string, 0, len(r.Input))
	for k := range r.Input {
		fields = append(fields, k)
	}
	e.Strs("fields", fields).Bool("has_api_key", r.APIKey != "")
}

// Artifact is the final output of a completed job.
type Artifact struct {
	VideoURL         string `json:"video_url,omitempty"`
	ModelMeshURL     string `json:"model_mesh_url,omitempty"`
	RenderedImageURL string `json:"rendered_image_url,omitempty"`
	PBRModelURL      string `json:"pbr_model_url,omitempty"`
}

// URLs lists the populated artifact URLs keyed by field name.
func (a Artifact) URLs() map[string]string {
	out := map[string]string{}
	for name, u := range map[string]string{
		"video":          a.VideoURL,
		"model_mesh":     a.ModelMeshURL,
		"rendered_image": a.RenderedImageURL,
		"pbr_model":      a.PBRModelURL,
	} {
		if u != "" {
			out[name] = u
		}
	}
	return out
}

// Handle identifies a submitted job. RequestID is assigned once by Submit.
type Handle struct {
	RequestID  string
	Descriptor *Descriptor
}

// Result is returned once a job completes and its artifact has been extracted.
type Result struct {
	RequestID string   `json:"request_id"`
	Artifact  Artifact `json:"artifact"`
	Logs      []string `json:"logs"`
	Attempts  int      `json:"attempts"`
}

// Observer receives every decoded status snapshot. It is advisory and cannot
// influence the polling decision.
type Observer func(Snapshot)
