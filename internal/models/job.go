package models

import (
	"time"
)

// JobStatus enumerates lifecycle states of a remote call tracked by the registry.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusTimeout    JobStatus = "timeout"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// CanTransition enforces forward-only movement: pending -> processing -> terminal.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to.IsTerminal()
	case StatusProcessing:
		return to.IsTerminal()
	}
	return false
}

// FileInfo describes the uploaded object. It is immutable once a job is created.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Checksum string `json:"checksum,omitempty"`
}

// Job represents one outstanding or completed remote call.
type Job struct {
	ID        string          `json:"id"`
	Status    JobStatus       `json:"status"`
	File      FileInfo        `json:"file"`
	Options   Options         `json:"options"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time,omitempty"`
	Deadline  time.Time       `json:"deadline"`
	Result    *ResultEnvelope `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Duration is the wall-clock latency of a terminal job, or the time elapsed so far.
func (j Job) Duration() time.Duration {
	if j.EndTime.IsZero() {
		return time.Since(j.StartTime)
	}
	return j.EndTime.Sub(j.StartTime)
}
