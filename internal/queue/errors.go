package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure returned by the client wraps exactly one of these,
// so callers branch with errors.Is.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrSubmissionFailed  = errors.New("submission failed")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrJobFailed         = errors.New("job failed")
	ErrTimedOut          = errors.New("timed out")
	ErrResultUnavailable = errors.New("result unavailable")
	ErrMalformedResult   = errors.New("malformed result")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrTransient marks a status poll that is retried silently. It is absorbed
	// by the polling loop and never returned to callers.
	ErrTransient = errors.New("transient")
)

var kindNames = map[error]string{
	ErrInvalidCredential: "invalid_credential",
	ErrSubmissionFailed:  "submission_failed",
	ErrProtocolViolation: "protocol_violation",
	ErrJobFailed:         "job_failed",
	ErrTimedOut:          "timed_out",
	ErrResultUnavailable: "result_unavailable",
	ErrMalformedResult:   "malformed_result",
	ErrInvalidInput:      "invalid_input",
	ErrTransient:         "transient",
}

// kindOrder fixes precedence when an error wraps more than one kind.
var kindOrder = []error{
	ErrInvalidCredential,
	ErrInvalidInput,
	ErrSubmissionFailed,
	ErrProtocolViolation,
	ErrJobFailed,
	ErrTimedOut,
	ErrResultUnavailable,
	ErrMalformedResult,
	ErrTransient,
}

// Error carries the diagnostics of a failed job stage.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Op names the stage that failed: prepare, submit, status or result.
	Op         string
	JobKind    string
	RequestID  string
	StatusCode int
	Body       string
	Detail     string
	Logs       []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("queue: ")
	if e.JobKind != "" {
		b.WriteString(e.JobKind)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns the stable snake_case name of the error kind wrapped by err,
// "canceled" for context errors, or "internal" when err carries no kind.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	var qe *Error
	if errors.As(err, &qe) {
		if name, ok := kindNames[qe.Kind]; ok {
			return name
		}
	}
	for _, kind := range kindOrder {
		if errors.Is(err, kind) {
			return kindNames[kind]
		}
	}
	return "internal"
}

// LogsOf returns the log lines attached to err, if any.
func LogsOf(err error) []string {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Logs
	}
	return nil
}

func invalidInput(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Op: "prepare", Detail: fmt.Sprintf(format, args...)}
}

// InvalidInput builds an ErrInvalidInput error for descriptor payload builders.
func InvalidInput(format string, args ...any) error {
	return invalidInput(format, args...)
}

// MalformedResult builds an ErrMalformedResult error for artifact extractors.
func MalformedResult(format string, args ...any) error {
	return &Error{Kind: ErrMalformedResult, Op: "result", Detail: fmt.Sprintf(format, args...)}
}

func truncateBody(body []byte) string {
	const limit = 2048
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
