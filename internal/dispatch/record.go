// Package dispatch implements the durable, retryable, deduplicated job queue
// behind the ingestion pipeline. Jobs are keyed deterministically per item so
// re-submission is idempotent and a retry can remove its predecessor before
// enqueuing a replacement.
package dispatch

import "time"

// Status represents the queue lifecycle of a job record.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority levels for jobs. Lower values are dispatched first among
// otherwise-equal-time entries; retries jump the line.
const (
	PriorityRetry   = 1
	PriorityDefault = 10
)

// Record represents one unit of dispatched asynchronous work. The queue
// exclusively owns the job lifecycle; the content item remains the durable
// source of truth for user-visible status and is updated by the job's
// executor, never inferred from job state.
type Record struct {
	// Key is the deterministic identity, "<sourcekind>-<itemID>".
	Key      string         `json:"key"`
	Kind     string         `json:"kind"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority"`

	Status    Status `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PayloadString returns a string payload field, or "" when absent.
func (r *Record) PayloadString(key string) string {
	if r.Payload == nil {
		return ""
	}
	if v, ok := r.Payload[key].(string); ok {
		return v
	}
	return ""
}
