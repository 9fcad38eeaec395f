package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"echoes/internal/infra"
)

// Client drives queue-style jobs: submit, poll until terminal, fetch result.
// A Client holds no per-job state and may run any number of jobs concurrently.
type Client struct {
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	maxBodyBytes int64
}

// NewClient constructs a client with sane defaults. A nil HTTP client is
// replaced by one with a 60 second timeout per call.
func NewClient(opts ...Option) *Client {
	o := NewOptions(opts...)

	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	var logger *infra.Logger
	if o.Logger != nil {
		logger = o.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	maxBody := o.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}

	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: o.PollInterval,
		maxBodyBytes: maxBody,
	}
}

// Run submits the job and blocks until it completes, fails, times out or ctx
// is cancelled.
func (c *Client) Run(ctx context.Context, d *Descriptor, req Request, observe Observer) (*Result, error) {
	handle, err := c.Submit(ctx, d, req)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, handle, req.APIKey, observe)
}

// Submit performs exactly one POST to the descriptor's submit URL. It never
// retries: a failed submission may still have been accepted remotely.
func (c *Client) Submit(ctx context.Context, d *Descriptor, req Request) (Handle, error) {
	if d == nil {
		return Handle{}, errors.New("queue: descriptor is required")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return Handle{}, &Error{Kind: ErrInvalidCredential, Op: "submit", JobKind: d.Kind, Detail: "api key is required"}
	}
	if d.Prepare != nil {
		if _, err := d.BuildPayload(req); err != nil {
			return Handle{}, stageError(err, ErrInvalidInput, "prepare", d.Kind, "")
		}
		prepared, err := d.Prepare(ctx, req)
		if err != nil {
			return Handle{}, stageError(err, ErrSubmissionFailed, "prepare", d.Kind, "")
		}
		req = prepared
	}
	payload, err := d.BuildPayload(req)
	if err != nil {
		return Handle{}, stageError(err, ErrInvalidInput, "prepare", d.Kind, "")
	}

	resp, err := c.do(ctx, d, http.MethodPost, d.SubmitURL, req.APIKey, payload)
	if err != nil {
		return Handle{}, &Error{Kind: ErrSubmissionFailed, Op: "submit", JobKind: d.Kind, Err: err}
	}
	requestID, err := c.submitOutcome(resp)
	if err != nil {
		var qe *Error
		if errors.As(err, &qe) {
			qe.JobKind = d.Kind
		}
		c.logger.Warn().
			Str("kind", d.Kind).
			Int("status", resp.status).
			Msg("queue: submission rejected")
		return Handle{}, err
	}

	c.logger.Info().
		Str("kind", d.Kind).
		Str("request_id", requestID).
		Msg("queue: job submitted")
	return Handle{RequestID: requestID, Descriptor: d}, nil
}

// Await polls a submitted job until a terminal state and fetches its artifact.
func (c *Client) Await(ctx context.Context, h Handle, apiKey string, observe Observer) (*Result, error) {
	if h.Descriptor == nil || h.RequestID == "" {
		return nil, errors.New("queue: handle is incomplete")
	}
	snap, attempts, err := c.poll(ctx, h, apiKey, observe)
	if err != nil {
		return nil, err
	}
	artifact, err := c.fetchResult(ctx, h, apiKey, snap.Logs)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("kind", h.Descriptor.Kind).
		Str("request_id", h.RequestID).
		Int("attempts", attempts).
		Msg("queue: job completed")
	return &Result{
		RequestID: h.RequestID,
		Artifact:  artifact,
		Logs:      snap.Logs,
		Attempts:  attempts,
	}, nil
}

// Check performs a single status observation and, when the job has completed,
// the result fetch. Job-level failures are reported in the snapshot; only
// credential and transport problems are returned as errors.
func (c *Client) Check(ctx context.Context, d *Descriptor, apiKey, requestID string) (Snapshot, error) {
	if d == nil {
		return Snapshot{}, errors.New("queue: descriptor is required")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Snapshot{}, invalidInput("request id is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return Snapshot{}, &Error{Kind: ErrInvalidCredential, Op: "status", JobKind: d.Kind, Detail: "api key is required"}
	}
	resp, err := c.do(ctx, d, http.MethodGet, d.StatusURL(requestID), apiKey, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("queue: %s: status: %w", d.Kind, err)
	}
	if resp.unauthorized() {
		return Snapshot{}, &Error{Kind: ErrInvalidCredential, Op: "status", JobKind: d.Kind, RequestID: requestID, StatusCode: resp.status, Body: truncateBody(resp.body)}
	}
	if !resp.ok() {
		return Snapshot{
			RequestID: requestID,
			Status:    StatusUnknown,
			Logs:      []string{fmt.Sprintf("Polling status failed with status: %d", resp.status)},
			Error:     "polling failed",
		}, nil
	}

	snap := parseStatus(resp.body)
	snap.RequestID = requestID
	h := Handle{RequestID: requestID, Descriptor: d}
	switch snap.Status {
	case StatusCompleted:
		artifact, err := c.fetchResult(ctx, h, apiKey, snap.Logs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Snapshot{}, ctxErr
			}
			snap.Status = StatusFailed
			snap.Error = err.Error()
			return snap, nil
		}
		snap.Artifact = &artifact
	case StatusFailed:
		snap.Error = firstNonEmpty(c.failureDetail(ctx, h, apiKey), snap.Error, "job reported failure")
	}
	return snap, nil
}

func (c *Client) settings(d *Descriptor) (interval time.Duration, maxAttempts, grace int) {
	interval = d.PollInterval
	if c.pollInterval > 0 {
		interval = c.pollInterval
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts = d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	grace = d.GraceAttempts
	switch {
	case grace < 0:
		grace = 0
	case grace == 0:
		grace = DefaultGraceAttempts
	}
	return interval, maxAttempts, grace
}

// stageError attaches job context to err, wrapping foreign errors in fallback.
func stageError(err error, fallback error, op, kind, requestID string) error {
	var qe *Error
	if errors.As(err, &qe) {
		if qe.JobKind == "" {
			qe.JobKind = kind
		}
		if qe.RequestID == "" {
			qe.RequestID = requestID
		}
		return err
	}
	return &Error{Kind: fallback, Op: op, JobKind: kind, RequestID: requestID, Err: err}
}
