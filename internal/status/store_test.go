package status

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"media-gateway/internal/models"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour), mr
}

func TestPutGetComputesElapsed(t *testing.T) {
	s, mr := newStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start.Add(1500 * time.Millisecond) }

	ctx := context.Background()
	if err := s.Put(ctx, models.StatusRecord{JobID: "j1", Status: models.StatusProcessing, StartTime: start}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusProcessing || rec.ElapsedMs != 1500 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if ttl := mr.TTL("gateway:status:j1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	done := start.Add(400 * time.Millisecond)
	rec.Status = models.StatusCompleted
	rec.CompletedAt = &done
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, _ = s.Get(ctx, "j1")
	if rec.ElapsedMs != 400 {
		t.Fatalf("completed record should freeze elapsed at 400ms, got %d", rec.ElapsedMs)
	}
}

func TestGetUnknown(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, models.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestUpdatesStreamsWrites(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, closeFn, err := s.Updates(ctx, "j2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer closeFn()

	if err := s.Put(ctx, models.StatusRecord{JobID: "j2", Status: models.StatusCompleted, StartTime: time.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	select {
	case rec := <-updates:
		if rec.JobID != "j2" || rec.Status != models.StatusCompleted {
			t.Fatalf("unexpected update %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no update received")
	}
}
