package stats

import (
	"math"
	"sync"
	"testing"
	"time"

	"media-gateway/internal/models"
)

func TestRunningMeanAndCounters(t *testing.T) {
	a := New()
	a.RecordOutcome(models.TargetLocal, true, 100*time.Millisecond)
	a.RecordOutcome(models.TargetRemote, true, 300*time.Millisecond)
	a.RecordOutcome(models.TargetRemote, false, 200*time.Millisecond)
	a.RecordFallback("timeout")

	s := a.Snapshot(2)
	if s.Total != 3 || s.Local != 1 || s.Remote != 2 || s.Failed != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
	if math.Abs(s.AvgLatencyMs-200) > 1e-9 {
		t.Fatalf("expected mean 200ms, got %f", s.AvgLatencyMs)
	}
	if math.Abs(s.SuccessRate-2.0/3.0) > 1e-9 {
		t.Fatalf("unexpected success rate %f", s.SuccessRate)
	}
	if s.Fallbacks != 1 || s.FallbackBy["timeout"] != 1 || s.ActiveRemote != 2 {
		t.Fatalf("unexpected fallback data %+v", s)
	}
}

func TestConcurrentRecording(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RecordOutcome(models.TargetLocal, true, 10*time.Millisecond)
		}()
	}
	wg.Wait()
	s := a.Snapshot(0)
	if s.Total != 50 || math.Abs(s.AvgLatencyMs-10) > 1e-9 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestRecordRemoteJob(t *testing.T) {
	a := New()
	start := time.Now()
	a.RecordRemoteJob(models.Job{Status: models.StatusCompleted, StartTime: start, EndTime: start.Add(40 * time.Millisecond)})
	a.RecordRemoteJob(models.Job{Status: models.StatusTimeout, StartTime: start, EndTime: start.Add(60 * time.Millisecond)})
	s := a.Snapshot(0)
	if s.Remote != 2 || s.Failed != 1 || math.Abs(s.AvgLatencyMs-50) > 1e-9 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}
