package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
)

// RedisQueue is the messaging transport between the gateway and remote workers.
// Work envelopes flow through priority ready lists with leases; results flow back
// through a reliable list with per-message ack.
type RedisQueue struct {
	client         *redis.Client
	priorityQueues []string
	readyPrefix    string
	inflightKey    string
	scheduledKey   string
	jobMetaPrefix  string
	visibilityTTL  time.Duration
	workDLQKey     string
	resultKey      string
	processingKey  string
	resultDLQKey   string
}

// NewClient builds a Redis client from config.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue builds a queue on top of client.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	priorities := cfg.PriorityQueues
	if len(priorities) == 0 {
		priorities = []string{"high", "default", "low"}
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	prefix := cfg.WorkQueuePrefix
	if prefix == "" {
		prefix = "gateway:work"
	}
	results := cfg.ResultQueue
	if results == "" {
		results = "gateway:results"
	}
	resultDLQ := cfg.ResultDLQ
	if resultDLQ == "" {
		resultDLQ = results + ":dlq"
	}
	workDLQ := cfg.WorkDLQ
	if workDLQ == "" {
		workDLQ = prefix + ":dlq"
	}
	return &RedisQueue{
		client:         client,
		priorityQueues: priorities,
		readyPrefix:    prefix + ":ready:",
		inflightKey:    prefix + ":inflight",
		scheduledKey:   prefix + ":scheduled",
		jobMetaPrefix:  prefix + ":meta:",
		visibilityTTL:  visibility,
		workDLQKey:     workDLQ,
		resultKey:      results,
		processingKey:  results + ":processing",
		resultDLQKey:   resultDLQ,
	}
}

func (q *RedisQueue) readyKey(priority string) string {
	return q.readyPrefix + priority
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

func (q *RedisQueue) knownPriority(p string) string {
	for _, known := range q.priorityQueues {
		if known == p {
			return p
		}
	}
	return "default"
}

// PublishWork stores the envelope and pushes its id onto the ready list for its priority.
func (q *RedisQueue) PublishWork(ctx context.Context, env models.WorkEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal work envelope: %w", err)
	}
	priority := q.knownPriority(models.Priority(env.Priority).Queue())
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(env.ID), "priority", priority, "body", body, "attempts", 0)
	pipe.RPush(ctx, q.readyKey(priority), env.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish work %s: %w", env.ID, err)
	}
	return nil
}

// LoadWork fetches a published envelope and its attempt count.
func (q *RedisQueue) LoadWork(ctx context.Context, jobID string) (models.WorkEnvelope, int, error) {
	vals, err := q.client.HMGet(ctx, q.metaKey(jobID), "body", "attempts").Result()
	if err != nil {
		return models.WorkEnvelope{}, 0, fmt.Errorf("load work %s: %w", jobID, err)
	}
	raw, ok := vals[0].(string)
	if !ok || raw == "" {
		return models.WorkEnvelope{}, 0, fmt.Errorf("load work %s: envelope missing", jobID)
	}
	var env models.WorkEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return models.WorkEnvelope{}, 0, fmt.Errorf("decode work %s: %w", jobID, err)
	}
	attempts := 0
	if s, ok := vals[1].(string); ok {
		attempts, _ = strconv.Atoi(s)
	}
	return env, attempts, nil
}

// IncrAttempts bumps and returns the attempt counter of a work item.
func (q *RedisQueue) IncrAttempts(ctx context.Context, jobID string) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.metaKey(jobID), "attempts", 1).Result()
	return int(n), err
}

// Schedule moves a work item into the scheduled set for deferred execution.
func (q *RedisQueue) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled items into ready queues. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey(q.priorityOf(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (q *RedisQueue) priorityOf(ctx context.Context, id string) string {
	priority, err := q.client.HGet(ctx, q.metaKey(id), "priority").Result()
	if err != nil || priority == "" {
		return "default"
	}
	return priority
}

// DequeueWithLease pops a work id from ready queues (priority order) and places it
// into in-flight with a visibility timeout. An empty id means nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.priorityQueues)+1)
	for _, p := range q.priorityQueues {
		keys = append(keys, q.readyKey(p))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight item.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// AckWork removes a work item from in-flight tracking and drops its envelope.
func (q *RedisQueue) AckWork(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(q.priorityOf(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeadLetterWork acks a work item and records its id on the work DLQ.
func (q *RedisQueue) DeadLetterWork(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	pipe.RPush(ctx, q.workDLQKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the total length of all ready queues.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.priorityQueues))
	for _, p := range q.priorityQueues {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(p)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
