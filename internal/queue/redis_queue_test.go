package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueue(client, config.Config{VisibilityTimeout: time.Minute}), mr
}

func TestWorkHonorsPriorityAndLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.PublishWork(ctx, models.WorkEnvelope{ID: "low-1", Priority: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.PublishWork(ctx, models.WorkEnvelope{ID: "urgent-1", Priority: 10, FileName: "a.png"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if depth, _ := q.ReadyDepth(ctx); depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "urgent-1" {
		t.Fatalf("expected urgent first, got %q err=%v", id, err)
	}
	env, attempts, err := q.LoadWork(ctx, id)
	if err != nil || env.FileName != "a.png" || attempts != 0 {
		t.Fatalf("load work: %+v attempts=%d err=%v", env, attempts, err)
	}
	if err := q.AckWork(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, _, err := q.LoadWork(ctx, id); err == nil {
		t.Fatalf("acked envelope should be gone")
	}

	id, _ = q.DequeueWithLease(ctx)
	if id != "low-1" {
		t.Fatalf("expected low-1, got %q", id)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "" {
		t.Fatalf("expected empty queue, got %q", id)
	}

	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil || len(reclaimed) != 1 || reclaimed[0] != "low-1" {
		t.Fatalf("expected expired lease reclaimed, got %v err=%v", reclaimed, err)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "low-1" {
		t.Fatalf("reclaimed item not ready again, got %q", id)
	}
}

func TestScheduleAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	_ = q.PublishWork(ctx, models.WorkEnvelope{ID: "w1", Priority: 5})
	id, _ := q.DequeueWithLease(ctx)

	if n, err := q.IncrAttempts(ctx, id); err != nil || n != 1 {
		t.Fatalf("incr attempts: %d err=%v", n, err)
	}
	if err := q.Schedule(ctx, id, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n, _ := q.PromoteScheduled(ctx, time.Now(), 10); n != 0 {
		t.Fatalf("item promoted before due")
	}
	if n, _ := q.PromoteScheduled(ctx, time.Now().Add(2*time.Second), 10); n != 1 {
		t.Fatalf("expected one promotion, got %d", n)
	}
	id, _ = q.DequeueWithLease(ctx)
	if err := q.DeadLetterWork(ctx, id); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	items, _ := q.WorkDLQPeek(ctx, 10)
	if len(items) != 1 || items[0] != "w1" {
		t.Fatalf("unexpected dlq %v", items)
	}
}

func TestResultAckNackAndRecover(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	if d, err := q.FetchResult(ctx); err != nil || d != nil {
		t.Fatalf("empty channel should yield nil delivery, got %v err=%v", d, err)
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := q.PublishResult(ctx, models.ResultEnvelope{ID: id, Processed: models.BoolPtr(true)}); err != nil {
			t.Fatalf("publish result: %v", err)
		}
	}

	d1, _ := q.FetchResult(ctx)
	var env models.ResultEnvelope
	if err := json.Unmarshal(d1.Body, &env); err != nil || env.ID != "r1" {
		t.Fatalf("unexpected first delivery %s err=%v", d1.Body, err)
	}
	if err := d1.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	d2, _ := q.FetchResult(ctx)
	if err := d2.Nack(ctx); err != nil {
		t.Fatalf("nack: %v", err)
	}
	dlq, _ := q.ResultDLQPeek(ctx, 10)
	if len(dlq) != 1 {
		t.Fatalf("expected nacked message on dlq, got %v", dlq)
	}

	// r3 is fetched but never acked, as if the process crashed.
	if d3, _ := q.FetchResult(ctx); d3 == nil {
		t.Fatalf("expected r3")
	}
	if n, err := q.RecoverResults(ctx); err != nil || n != 1 {
		t.Fatalf("recover: n=%d err=%v", n, err)
	}
	list, _ := mr.List("gateway:results")
	if len(list) != 1 {
		t.Fatalf("expected recovered message back on channel, got %v", list)
	}
	if mr.Exists("gateway:results:processing") {
		t.Fatalf("processing list should be empty")
	}
}
