package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"media-gateway/internal/models"
)

// Delivery is one inbound result message held in the processing list until acked.
type Delivery struct {
	Body []byte
	raw  string
	q    *RedisQueue
}

// Ack removes the message from the processing list.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.q.client.LRem(ctx, d.q.processingKey, 1, d.raw).Err()
}

// Nack rejects the message without requeue; it is parked on the result DLQ.
func (d *Delivery) Nack(ctx context.Context) error {
	pipe := d.q.client.TxPipeline()
	pipe.LRem(ctx, d.q.processingKey, 1, d.raw)
	pipe.RPush(ctx, d.q.resultDLQKey, d.raw)
	_, err := pipe.Exec(ctx)
	return err
}

// PublishResult is used by remote workers to report an outcome.
func (q *RedisQueue) PublishResult(ctx context.Context, env models.ResultEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal result envelope: %w", err)
	}
	if err := q.client.RPush(ctx, q.resultKey, body).Err(); err != nil {
		return fmt.Errorf("publish result %s: %w", env.ID, err)
	}
	return nil
}

// FetchResult moves the oldest result into the processing list and returns it.
// A nil delivery means the channel is empty.
func (q *RedisQueue) FetchResult(ctx context.Context) (*Delivery, error) {
	raw, err := q.client.LMove(ctx, q.resultKey, q.processingKey, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	return &Delivery{Body: []byte(raw), raw: raw, q: q}, nil
}

// RecoverResults returns unacked results from a previous run to the head of the channel.
func (q *RedisQueue) RecoverResults(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.resultKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover results: %w", err)
		}
		n++
	}
}

// ResultDLQPeek reads rejected result messages for operational inspection.
func (q *RedisQueue) ResultDLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.resultDLQKey, 0, count-1).Result()
}

// WorkDLQPeek reads dead-lettered work ids.
func (q *RedisQueue) WorkDLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.workDLQKey, 0, count-1).Result()
}
