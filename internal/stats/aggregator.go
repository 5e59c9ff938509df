package stats

import (
	"sync"
	"time"

	"media-gateway/internal/models"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total         int64            `json:"total"`
	Local         int64            `json:"local"`
	Remote        int64            `json:"remote"`
	Failed        int64            `json:"failed"`
	Fallbacks     int64            `json:"fallbacks"`
	FallbackBy    map[string]int64 `json:"fallback_by_reason,omitempty"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	SuccessRate   float64          `json:"success_rate"`
	ActiveRemote  int64            `json:"active_remote"`
	LastUpdatedAt time.Time        `json:"last_updated_at"`
}

// Aggregator tracks processing outcomes. Safe for concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	total      int64
	local      int64
	remote     int64
	failed     int64
	fallbacks  int64
	fallbackBy map[string]int64
	avgMs      float64
	updated    time.Time
}

func New() *Aggregator {
	return &Aggregator{fallbackBy: make(map[string]int64)}
}

// RecordOutcome counts one finished processing attempt and folds its latency
// into the running mean.
func (a *Aggregator) RecordOutcome(path models.Target, success bool, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	switch path {
	case models.TargetLocal:
		a.local++
	case models.TargetRemote:
		a.remote++
	}
	if !success {
		a.failed++
	}
	ms := float64(d) / float64(time.Millisecond)
	a.avgMs += (ms - a.avgMs) / float64(a.total)
	a.updated = time.Now()
}

// RecordFallback counts a remote attempt that was replaced by local processing.
func (a *Aggregator) RecordFallback(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallbacks++
	a.fallbackBy[reason]++
	a.updated = time.Now()
}

// Snapshot copies the counters. activeRemote is supplied by the caller that owns it.
func (a *Aggregator) Snapshot(activeRemote int64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	by := make(map[string]int64, len(a.fallbackBy))
	for k, v := range a.fallbackBy {
		by[k] = v
	}
	rate := 1.0
	if a.total > 0 {
		rate = float64(a.total-a.failed) / float64(a.total)
	}
	return Snapshot{
		Total:         a.total,
		Local:         a.local,
		Remote:        a.remote,
		Failed:        a.failed,
		Fallbacks:     a.fallbacks,
		FallbackBy:    by,
		AvgLatencyMs:  a.avgMs,
		SuccessRate:   rate,
		ActiveRemote:  activeRemote,
		LastUpdatedAt: a.updated,
	}
}

// RecordRemoteJob counts a remote job that reached a terminal state. It is
// meant to be installed as the registry's terminal hook.
func (a *Aggregator) RecordRemoteJob(job models.Job) {
	a.RecordOutcome(models.TargetRemote, job.Status == models.StatusCompleted, job.Duration())
}
