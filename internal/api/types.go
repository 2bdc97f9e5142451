package api

import "time"

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Name string `json:"name"`
	Spec Spec   `json:"spec"`
}

// JobView is the describe snapshot of a job as of the moment of the
// call. It is a read-only copy; the authoritative record stays with
// the service.
type JobView struct {
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	Spec          Spec      `json:"spec"`
	AttemptID     string    `json:"attempt_id,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
}

// ListResponse is the body of GET /v1/jobs.
type ListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// LogRecord is one timestamped line from a job's execution
// environment. Seq is the record's position in the job's stream and is
// strictly increasing within a job.
type LogRecord struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}
