package models

import (
	"fmt"
	"strconv"
	"strings"

	"media-gateway/internal/preset"
)

// Priority is a closed 1..10 scale. Named levels map onto it.
type Priority int

const (
	PriorityLow    Priority = 2
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 8
	PriorityUrgent Priority = 10
)

var priorityNames = map[string]Priority{
	"low":    PriorityLow,
	"normal": PriorityNormal,
	"medium": PriorityNormal,
	"high":   PriorityHigh,
	"urgent": PriorityUrgent,
}

// ParsePriority accepts a named level or a raw 1..10 value. Empty means normal.
func ParsePriority(v string) (Priority, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return PriorityNormal, nil
	}
	if p, ok := priorityNames[v]; ok {
		return p, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 10 {
		return 0, fmt.Errorf("invalid priority %q: want low|normal|high|urgent or 1-10", v)
	}
	return Priority(n), nil
}

// IsHigh reports whether the request should be treated as urgent traffic.
func (p Priority) IsHigh() bool {
	return p >= PriorityHigh
}

// Queue maps the priority onto one of the transport's ready lists.
func (p Priority) Queue() string {
	switch {
	case p >= PriorityHigh:
		return "high"
	case p > 0 && p <= 3:
		return "low"
	default:
		return "default"
	}
}

// Options is the per-request processing context.
type Options struct {
	Provider    string `json:"provider,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	Module      string `json:"module,omitempty"`
	EntityType  string `json:"entity_type,omitempty"`
	EntityID    string `json:"entity_id,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"public"`

	// UseAdvancedProcessing forces remote (true) or local (false) when set.
	UseAdvancedProcessing *bool       `json:"use_advanced_processing,omitempty"`
	Preset                preset.Name `json:"preset,omitempty"`
	Priority              Priority    `json:"priority"`
	Async                 bool        `json:"async"`
	SkipMetadata          bool        `json:"skip_metadata"`
	SkipProcessing        bool        `json:"skip_processing"`
}
