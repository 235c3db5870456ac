// Package models contains shared data models used across the docwatch codebase.
package models

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether a job status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// UploadReceipt is what the service returns on a successful submission.
type UploadReceipt struct {
	JobID      string    `json:"job_id"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	UploadTime time.Time `json:"upload_time"`
}

// StatusSnapshot is one observation of a job's state. The client polls
// GET /status/{job_id} until status reaches completed or failed.
type StatusSnapshot struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// JobInfo is a summary row from the service's job listing.
type JobInfo struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	FileSize  int64     `json:"file_size"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobPage is one page of the service's job listing.
type JobPage struct {
	Jobs    []JobInfo `json:"jobs"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
}
