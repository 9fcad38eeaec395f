package queue

import (
	"encoding/json"
	"strings"
)

type submitBody struct {
	RequestID string `json:"request_id"`
}

// submitOutcome classifies the single submit response.
func (c *Client) submitOutcome(resp response) (string, error) {
	switch {
	case resp.unauthorized():
		return "", &Error{Kind: ErrInvalidCredential, Op: "submit", StatusCode: resp.status, Body: truncateBody(resp.body)}
	case !resp.ok():
		return "", &Error{Kind: ErrSubmissionFailed, Op: "submit", StatusCode: resp.status, Body: truncateBody(resp.body)}
	}

	var decoded submitBody
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return "", &Error{Kind: ErrProtocolViolation, Op: "submit", StatusCode: resp.status, Body: truncateBody(resp.body), Err: err}
	}
	id := strings.TrimSpace(decoded.RequestID)
	if id == "" {
		return "", &Error{Kind: ErrProtocolViolation, Op: "submit", StatusCode: resp.status, Body: truncateBody(resp.body), Detail: "response has no request_id"}
	}
	return id, nil
}
