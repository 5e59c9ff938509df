package models

import (
	"time"
)

// Target selects where the transform runs.
type Target string

const (
	TargetLocal  Target = "local"
	TargetRemote Target = "remote"
)

// Mode selects whether the caller waits for the outcome.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Upload is a file handed to the orchestrator.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// ProcessorInfo records which processors produced the final bytes.
type ProcessorInfo struct {
	Local          bool   `json:"local"`
	Remote         bool   `json:"remote"`
	Fallback       bool   `json:"fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// ProcessResult is returned to the caller of an upload.
type ProcessResult struct {
	Target      Target `json:"target"`
	Mode        Mode   `json:"mode"`
	RouteReason string `json:"route_reason"`

	Processed       bool          `json:"processed"`
	ProcessedRemote bool          `json:"processed_remote,omitempty"`
	Processor       ProcessorInfo `json:"processor"`
	Reason          string        `json:"reason,omitempty"`
	OriginalSize    int64         `json:"original_size"`
	FinalSize       int64         `json:"final_size"`
	Reduction       float64       `json:"reduction"`
	DurationMs      int64         `json:"duration_ms"`

	StoredName string      `json:"stored_name,omitempty"`
	URL        string      `json:"url,omitempty"`
	Record     *FileRecord `json:"record,omitempty"`

	JobID               string     `json:"job_id,omitempty"`
	Status              JobStatus  `json:"status,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	StatusURL           string     `json:"status_url,omitempty"`
	PreviewURL          string     `json:"preview_url,omitempty"`
}

// ResultSummary is the condensed outcome kept on an async status record.
type ResultSummary struct {
	Processed       bool    `json:"processed"`
	ProcessedRemote bool    `json:"processed_remote"`
	Fallback        bool    `json:"fallback"`
	OriginalSize    int64   `json:"original_size"`
	FinalSize       int64   `json:"final_size"`
	Reduction       float64 `json:"reduction"`
}

// StatusRecord is the long-lived record polled by clients of async uploads.
type StatusRecord struct {
	JobID        string         `json:"job_id"`
	Status       JobStatus      `json:"status"`
	FileName     string         `json:"filename"`
	StartTime    time.Time      `json:"start_time"`
	ElapsedMs    int64          `json:"elapsed_ms"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ProcessingMs int64          `json:"processing_ms,omitempty"`
	Summary      *ResultSummary `json:"result,omitempty"`
	Uploaded     bool           `json:"uploaded"`
	URL          string         `json:"url,omitempty"`
	PreviewURL   string         `json:"preview_url,omitempty"`
	RecordID     string         `json:"record_id,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// FileRecord is the metadata row registered for a stored upload.
type FileRecord struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	CompanyID   string    `json:"company_id"`
	Provider    string    `json:"provider,omitempty"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Public      bool      `json:"public"`
	FileName    string    `json:"file_name"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	URL         string    `json:"url"`
	JobID       string    `json:"job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
