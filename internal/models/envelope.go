package models

import (
	"encoding/base64"
	"fmt"
	"time"
)

// UnknownJobID is sent by remote workers that cannot echo the correlation id.
const UnknownJobID = "unknown"

// PresetParams are the resolved transform parameters carried to the worker.
type PresetParams struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Quality int    `json:"quality"`
	Format  string `json:"format"`
}

// WorkEnvelope is the outbound message published on the work channel.
type WorkEnvelope struct {
	ID        string       `json:"id"`
	FileName  string       `json:"file_name"`
	MimeType  string       `json:"mime_type"`
	Size      int64        `json:"size"`
	Payload   string       `json:"payload"`
	Priority  int          `json:"priority"`
	TenantID  string       `json:"tenant_id,omitempty"`
	CompanyID string       `json:"company_id,omitempty"`
	Module    string       `json:"module,omitempty"`
	Preset    PresetParams `json:"preset"`
	CreatedAt time.Time    `json:"created_at"`
}

// ResultEnvelope is the inbound message consumed from the result channel.
// Payload is optional: a worker may report completion without returning bytes.
type ResultEnvelope struct {
	ID         string         `json:"id"`
	Processed  *bool          `json:"processed"`
	Payload    string         `json:"payload,omitempty"`
	MimeType   string         `json:"mime_type,omitempty"`
	Reduction  float64        `json:"reduction"`
	DurationMs int64          `json:"duration_ms"`
	Info       map[string]any `json:"info,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// HasPayload reports whether the worker returned transformed bytes.
func (r ResultEnvelope) HasPayload() bool {
	return r.Payload != ""
}

// Validate checks the fields the orchestrator relies on.
func (r ResultEnvelope) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedResult)
	}
	if r.Processed == nil {
		return fmt.Errorf("%w: missing processed flag", ErrMalformedResult)
	}
	if r.HasPayload() {
		if _, err := r.DecodePayload(); err != nil {
			return err
		}
	}
	return nil
}

// DecodePayload returns the raw bytes carried in the envelope.
func (r ResultEnvelope) DecodePayload() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedResult, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedResult)
	}
	return data, nil
}

// BoolPtr is a small helper for envelope construction.
func BoolPtr(v bool) *bool {
	return &v
}
