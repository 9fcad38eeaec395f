package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// fetchResult performs the single authoritative result GET and runs the
// descriptor's extractor over it exactly once.
func (c *Client) fetchResult(ctx context.Context, h Handle, apiKey string, logs []string) (Artifact, error) {
	d := h.Descriptor
	resp, err := c.do(ctx, d, http.MethodGet, d.ResultURL(h.RequestID), apiKey, nil)
	if err != nil {
		if ctx.Err() != nil {
			return Artifact{}, cancelled(ctx, d, h.RequestID)
		}
		return Artifact{}, &Error{Kind: ErrResultUnavailable, Op: "result", JobKind: d.Kind, RequestID: h.RequestID, Logs: logs, Err: err}
	}
	if !resp.ok() {
		return Artifact{}, &Error{
			Kind:       ErrResultUnavailable,
			Op:         "result",
			JobKind:    d.Kind,
			RequestID:  h.RequestID,
			StatusCode: resp.status,
			Body:       truncateBody(resp.body),
			Logs:       logs,
		}
	}

	artifact, err := d.ExtractArtifact(resp.body)
	if err != nil {
		var qe *Error
		if errors.As(err, &qe) {
			qe.JobKind = d.Kind
			qe.RequestID = h.RequestID
			qe.Logs = logs
			return Artifact{}, err
		}
		return Artifact{}, &Error{Kind: ErrMalformedResult, Op: "result", JobKind: d.Kind, RequestID: h.RequestID, Logs: logs, Err: err}
	}
	return artifact, nil
}

type failureBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  json.RawMessage `json:"error"`
}

// failureDetail makes a best-effort read of the failure reason from the result
// endpoint. Any problem yields an empty string.
func (c *Client) failureDetail(ctx context.Context, h Handle, apiKey string) string {
	d := h.Descriptor
	resp, err := c.do(ctx, d, http.MethodGet, d.ResultURL(h.RequestID), apiKey, nil)
	if err != nil || len(resp.body) == 0 {
		return ""
	}
	var decoded failureBody
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return ""
	}
	return firstNonEmpty(rawText(decoded.Detail), rawText(decoded.Error))
}
