package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates the lifecycle of a tracked queue job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "SUBMITTED"
	JobStatusPolling   JobStatus = "POLLING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusTimedOut  JobStatus = "TIMED_OUT"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsFinal reports whether the job will not change state again.
func (s JobStatus) IsFinal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one tracked run of a queue job. It never holds the provider API key.
type Job struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	RequestID    string            `json:"request_id,omitempty"`
	Status       JobStatus         `json:"status"`
	Logs         []string          `json:"logs"`
	Attempts     int               `json:"attempts"`
	ResultJSON   json.RawMessage   `json:"result,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StorageKeys  map[string]string `json:"storage_keys,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Logs != nil {
		out.Logs = append([]string(nil), j.Logs...)
	}
	if j.ResultJSON != nil {
		out.ResultJSON = append(json.RawMessage(nil), j.ResultJSON...)
	}
	if j.StorageKeys != nil {
		out.StorageKeys = make(map[string]string, len(j.StorageKeys))
		for k, v := range j.StorageKeys {
			out.StorageKeys[k] = v
		}
	}
	return &out
}
