package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"media-gateway/internal/models"
	"media-gateway/internal/queue"
	"media-gateway/internal/registry"
	"media-gateway/internal/telemetry"
)

// Listener consumes the result channel and resolves outstanding jobs.
// Messages are handled one at a time.
type Listener struct {
	q    *queue.RedisQueue
	reg  *registry.Registry
	poll time.Duration
}

func New(q *queue.RedisQueue, reg *registry.Registry, poll time.Duration) *Listener {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &Listener{q: q, reg: reg, poll: poll}
}

// Run consumes until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if n, err := l.q.RecoverResults(ctx); err != nil {
		log.Printf("listener: recover unacked results: %v", err)
	} else if n > 0 {
		log.Printf("listener: recovered %d unacked results", n)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d, err := l.q.FetchResult(ctx)
		if err != nil {
			log.Printf("listener: %v", err)
		}
		if d == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.poll):
			}
			continue
		}
		l.deliver(ctx, d)
	}
}

func (l *Listener) deliver(ctx context.Context, d *queue.Delivery) {
	err := l.safeHandle(d.Body)
	if err != nil {
		log.Printf("listener: rejecting message: %v", err)
		telemetry.ResultsConsumed.WithLabelValues("nacked").Inc()
		if nackErr := d.Nack(ctx); nackErr != nil {
			log.Printf("listener: nack: %v", nackErr)
		}
		return
	}
	if ackErr := d.Ack(ctx); ackErr != nil {
		log.Printf("listener: ack: %v", ackErr)
	}
}

func (l *Listener) safeHandle(body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling result: %v", r)
		}
	}()
	return l.Handle(body)
}

// Handle applies one result message to the registry. It returns an error only
// when the message itself must be rejected; unmatched results are dropped.
func (l *Listener) Handle(body []byte) error {
	var env models.ResultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if env.ID == "" {
		return fmt.Errorf("%w: result without id", models.ErrMalformedResult)
	}

	id := env.ID
	if id == models.UnknownJobID {
		target, ok := attributeUnknown(l.reg)
		if !ok {
			log.Printf("listener: dropping result with unknown id: no active job")
			telemetry.ResultsConsumed.WithLabelValues("dropped").Inc()
			return nil
		}
		log.Printf("listener: attributing unknown-id result to oldest active job=%s", target)
		id = target
	}

	var err error
	if env.Error != "" {
		err = l.reg.Fail(id, fmt.Errorf("%w: %s", models.ErrRemote, env.Error))
	} else if verr := env.Validate(); verr != nil {
		err = l.reg.Fail(id, verr)
	} else {
		err = l.reg.Resolve(id, env)
	}
	switch {
	case err == nil:
		telemetry.ResultsConsumed.WithLabelValues("resolved").Inc()
		return nil
	case errors.Is(err, models.ErrUnknownJob), errors.Is(err, registry.ErrAlreadyTerminal):
		log.Printf("listener: dropping late or unmatched result job=%s: %v", id, err)
		telemetry.ResultsConsumed.WithLabelValues("dropped").Inc()
		return nil
	default:
		return err
	}
}

// attributeUnknown chooses the job a result without correlation id belongs to:
// the oldest job still pending or processing. This assumes workers answer in
// dispatch order, which the transport does not guarantee; with several jobs in
// flight a result can land on the wrong job.
func attributeUnknown(reg *registry.Registry) (string, bool) {
	return reg.OldestActive()
}
