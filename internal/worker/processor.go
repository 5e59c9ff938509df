package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
	"media-gateway/internal/preset"
	"media-gateway/internal/queue"
	"media-gateway/internal/telemetry"
	"media-gateway/internal/transform"
)

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// Processor is the remote worker loop: it leases work envelopes, transforms the
// payload and publishes a result envelope for the gateway.
type Processor struct {
	cfg       config.Config
	queue     *queue.RedisQueue
	transform transform.Transformer
	workerID  string
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, t transform.Transformer, workerID string) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WorkerPollInterval <= 0 {
		cfg.WorkerPollInterval = time.Second
	}
	return &Processor{cfg: cfg, queue: q, transform: t, workerID: workerID}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		worked, err := p.Step(ctx)
		if err != nil {
			log.Printf("worker %s: %v", p.workerID, err)
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.WorkerPollInterval):
		}
	}
}

// Step performs housekeeping and handles at most one work item. It reports
// whether an item was leased.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	now := time.Now()
	if _, err := p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize)); err != nil {
		log.Printf("worker %s: promote scheduled: %v", p.workerID, err)
	}
	if reclaimed, err := p.queue.RequeueExpired(ctx, now, 100); err == nil && len(reclaimed) > 0 {
		log.Printf("worker %s: reclaimed %d expired leases", p.workerID, len(reclaimed))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.WorkQueueDepth.Set(float64(depth))
	}

	id, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if id == "" {
		return false, nil
	}
	return true, p.handle(ctx, id)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	env, _, err := p.queue.LoadWork(ctx, id)
	if err != nil {
		if ackErr := p.queue.AckWork(ctx, id); ackErr != nil {
			log.Printf("worker %s: job=%s ack unloadable work: %v", p.workerID, id, ackErr)
		}
		return err
	}

	stop := p.keepLease(ctx, id)
	res, err := p.execute(ctx, env)
	stop()

	if err == nil {
		if err := p.queue.PublishResult(ctx, res); err != nil {
			// Leave the lease to expire so another worker retries the item.
			return err
		}
		telemetry.WorkerSuccess.Inc()
		return p.queue.AckWork(ctx, id)
	}

	attempts, incErr := p.queue.IncrAttempts(ctx, id)
	if incErr != nil {
		return fmt.Errorf("job %s: count attempt: %w", id, incErr)
	}
	if errors.Is(err, errPermanent) || attempts >= p.cfg.MaxAttempts {
		log.Printf("worker %s: job=%s giving up after %d attempts: %v", p.workerID, id, attempts, err)
		failure := models.ResultEnvelope{
			ID:        p.replyID(env.ID),
			Processed: models.BoolPtr(false),
			Error:     err.Error(),
		}
		if pubErr := p.queue.PublishResult(ctx, failure); pubErr != nil {
			log.Printf("worker %s: job=%s publish failure result: %v", p.workerID, id, pubErr)
		}
		telemetry.WorkerDeadLetter.Inc()
		return p.queue.DeadLetterWork(ctx, id)
	}

	next := time.Now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts))
	log.Printf("worker %s: job=%s attempt %d failed, retry at %s: %v", p.workerID, id, attempts, next.UTC().Format(time.RFC3339), err)
	telemetry.WorkerFailures.Inc()
	return p.queue.Schedule(ctx, id, next)
}

// execute decodes the payload, runs the transform and builds the result envelope.
func (p *Processor) execute(ctx context.Context, env models.WorkEnvelope) (models.ResultEnvelope, error) {
	data, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil || len(data) == 0 {
		return models.ResultEnvelope{}, fmt.Errorf("%w: undecodable payload", errPermanent)
	}
	if !transform.IsTransformable(env.MimeType) {
		return models.ResultEnvelope{}, fmt.Errorf("%w: unsupported content type %q", errPermanent, env.MimeType)
	}

	start := time.Now()
	out, info, err := p.transform.Transform(ctx, data, env.MimeType, transform.Params{
		MaxWidth:  env.Preset.Width,
		MaxHeight: env.Preset.Height,
		Quality:   env.Preset.Quality,
		Format:    preset.Format(env.Preset.Format),
	})
	if err != nil {
		return models.ResultEnvelope{}, err
	}

	processed := len(out) < len(data)
	mimeType := info.MimeType
	if !processed {
		out, mimeType = data, env.MimeType
	}
	res := models.ResultEnvelope{
		ID:         p.replyID(env.ID),
		Processed:  models.BoolPtr(processed),
		MimeType:   mimeType,
		Reduction:  transform.Reduction(int64(len(data)), int64(len(out))),
		DurationMs: time.Since(start).Milliseconds(),
		Info: map[string]any{
			"worker": p.workerID,
			"width":  info.Width,
			"height": info.Height,
			"preset": env.Preset.Name,
		},
	}
	if p.cfg.WorkerReturnPayload {
		res.Payload = base64.StdEncoding.EncodeToString(out)
	}
	return res, nil
}

// replyID echoes the correlation id unless the worker is configured to behave
// like a legacy worker that cannot.
func (p *Processor) replyID(id string) string {
	if p.cfg.WorkerEchoID {
		return id
	}
	return models.UnknownJobID
}

// keepLease extends the lease at half the visibility timeout until stopped.
func (p *Processor) keepLease(ctx context.Context, id string) func() {
	interval := p.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.queue.ExtendLease(ctx, id, p.cfg.VisibilityTimeout); err != nil {
					log.Printf("worker %s: job=%s extend lease: %v", p.workerID, id, err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
