package queue

import (
	"encoding/json"
	"strings"
)

// Status is the job state reported by the remote queue.
type Status string

const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusUnknown    Status = "UNKNOWN"
)

// IsTerminal reports whether no further transition follows s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ToStatus normalises the provider's status vocabulary. SUCCEEDED and ERROR are
// aliases used by some endpoints; anything unrecognised maps to UNKNOWN.
func ToStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_QUEUE":
		return StatusInQueue
	case "IN_PROGRESS":
		return StatusInProgress
	case "COMPLETED", "SUCCEEDED":
		return StatusCompleted
	case "FAILED", "ERROR":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Snapshot is the outcome of a single status observation. Logs is the full log
// list reported by that poll and replaces any earlier snapshot.
type Snapshot struct {
	RequestID string    `json:"request_id"`
	Status    Status    `json:"status"`
	Raw       string    `json:"raw_status,omitempty"`
	Logs      []string  `json:"logs,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
}

type statusBody struct {
	Status string          `json:"status"`
	Logs   json.RawMessage `json:"logs"`
	Error  json.RawMessage `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

// parseStatus decodes a 2xx status body. A body that cannot be decoded yields
// an UNKNOWN snapshot rather than an error.
func parseStatus(body []byte) Snapshot {
	var decoded statusBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Snapshot{Status: StatusUnknown}
	}
	snap := Snapshot{
		Status: ToStatus(decoded.Status),
		Raw:    decoded.Status,
		Logs:   parseLogs(decoded.Logs),
	}
	snap.Error = firstNonEmpty(rawText(decoded.Error), rawText(decoded.Detail))
	return snap
}

// parseLogs accepts either [{"message": "..."}] or ["..."]. Entries of any
// other shape are skipped. An absent or null list yields nil, which keeps the
// previous snapshot.
func parseLogs(raw json.RawMessage) []string {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return nil
	}
	logs := make([]string, 0, len(entries))
	for _, entry := range entries {
		var text string
		if err := json.Unmarshal(entry, &text); err == nil {
			logs = append(logs, text)
			continue
		}
		var obj struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Message != nil {
			logs = append(logs, *obj.Message)
		}
	}
	return logs
}

// rawText renders a JSON value as human-readable text: strings are unquoted,
// null is empty and everything else is kept as compact JSON.
func rawText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
