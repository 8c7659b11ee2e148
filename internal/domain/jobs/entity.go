package jobs

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no job record exists for a session.
var ErrNotFound = errors.New("job not found")

// Status enum
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is the status record of one pipeline run, keyed by session id.
type Job struct {
	SessionID  string    `json:"session_id"`
	RunID      string    `json:"run_id"`
	Email      string    `json:"email,omitempty"`
	Status     Status    `json:"status"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error,omitempty"`
	ReportURLs []string  `json:"report_urls"`
	FileCount  int       `json:"file_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the run has not reached a terminal state.
func (j *Job) Active() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}
