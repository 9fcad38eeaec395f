package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// poll observes the job until a terminal status. It returns the COMPLETED
// snapshot and the number of polls made. Polls are strictly sequential and
// each is preceded by one full interval.
func (c *Client) poll(ctx context.Context, h Handle, apiKey string, observe Observer) (Snapshot, int, error) {
	d := h.Descriptor
	interval, maxAttempts, grace := c.settings(d)
	statusURL := d.StatusURL(h.RequestID)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	var logs []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, attempt - 1, cancelled(ctx, d, h.RequestID)
		case <-timer.C:
		}

		resp, err := c.do(ctx, d, http.MethodGet, statusURL, apiKey, nil)
		if err != nil {
			if ctx.Err() != nil {
				return Snapshot{}, attempt, cancelled(ctx, d, h.RequestID)
			}
			c.logger.Warn().
				Err(err).
				Str("kind", d.Kind).
				Str("request_id", h.RequestID).
				Int("attempt", attempt).
				Msg("queue: status poll failed, retrying")
			continue
		}

		snap, err := classifyStatus(resp, attempt, grace)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				c.logger.Debug().
					Str("kind", d.Kind).
					Str("request_id", h.RequestID).
					Int("attempt", attempt).
					Int("status", resp.status).
					Msg("queue: status not available yet")
				continue
			}
			var qe *Error
			if errors.As(err, &qe) {
				qe.JobKind = d.Kind
				qe.RequestID = h.RequestID
				qe.Logs = logs
			}
			return Snapshot{}, attempt, err
		}

		snap.RequestID = h.RequestID
		snap.Attempt = attempt
		if snap.Logs != nil {
			logs = snap.Logs
		}
		snap.Logs = logs
		if observe != nil {
			observe(snap)
		}

		switch snap.Status {
		case StatusCompleted:
			return snap, attempt, nil
		case StatusFailed:
			detail := firstNonEmpty(c.failureDetail(ctx, h, apiKey), snap.Error, "job reported failure")
			c.logger.Warn().
				Str("kind", d.Kind).
				Str("request_id", h.RequestID).
				Str("detail", detail).
				Msg("queue: job failed")
			return Snapshot{}, attempt, &Error{
				Kind:      ErrJobFailed,
				Op:        "status",
				JobKind:   d.Kind,
				RequestID: h.RequestID,
				Detail:    detail,
				Logs:      logs,
			}
		}
	}

	return Snapshot{}, maxAttempts, &Error{
		Kind:      ErrTimedOut,
		Op:        "status",
		JobKind:   d.Kind,
		RequestID: h.RequestID,
		Detail:    fmt.Sprintf("no terminal status after %d attempts", maxAttempts),
		Logs:      logs,
	}
}

// classifyStatus maps one status response onto a snapshot or an error kind.
// ErrTransient means the poll should be absorbed and the loop continued.
func classifyStatus(resp response, attempt, grace int) (Snapshot, error) {
	switch {
	case resp.ok():
		return parseStatus(resp.body), nil
	case resp.unauthorized():
		return Snapshot{}, &Error{Kind: ErrInvalidCredential, Op: "status", StatusCode: resp.status, Body: truncateBody(resp.body)}
	case resp.status == http.StatusNotFound && attempt <= grace:
		return Snapshot{}, ErrTransient
	default:
		return Snapshot{}, &Error{Kind: ErrJobFailed, Op: "status", StatusCode: resp.status, Body: truncateBody(resp.body)}
	}
}

func cancelled(ctx context.Context, d *Descriptor, requestID string) error {
	return fmt.Errorf("queue: %s: request %s: %w", d.Kind, requestID, context.Cause(ctx))
}
