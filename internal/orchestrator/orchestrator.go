package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
	"media-gateway/internal/preset"
	"media-gateway/internal/registry"
	"media-gateway/internal/routing"
	"media-gateway/internal/stats"
	"media-gateway/internal/storage"
	"media-gateway/internal/telemetry"
	"media-gateway/internal/transform"
)

// Storage persists final bytes and previews.
type Storage interface {
	Upload(ctx context.Context, data []byte, meta storage.Meta) (storage.Object, error)
	Delete(ctx context.Context, name string) error
}

// Metadata registers a record for each stored upload.
type Metadata interface {
	CreateRecord(ctx context.Context, rec models.FileRecord) (models.FileRecord, error)
}

// StatusStore keeps the long-lived status records of async uploads.
type StatusStore interface {
	Put(ctx context.Context, rec models.StatusRecord) error
	Get(ctx context.Context, id string) (models.StatusRecord, error)
}

// Submitter registers and publishes remote jobs.
type Submitter interface {
	Submit(ctx context.Context, up models.Upload, opts models.Options) (registry.Ticket, error)
}

// Deps are the collaborators an Orchestrator drives. Metadata may be nil.
type Deps struct {
	Registry  *registry.Registry
	Submitter Submitter
	Processor *transform.Processor
	Catalog   preset.Catalog
	Stats     *stats.Aggregator
	Storage   Storage
	Metadata  Metadata
	Status    StatusStore
}

// Orchestrator routes each upload to local or remote processing and persists the result.
type Orchestrator struct {
	deps       Deps
	policy     routing.Policy
	maxRemote  int64
	retryAfter time.Duration
	preview    bool
	bgTimeout  time.Duration

	active atomic.Int64
	wg     sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Catalog == nil {
		deps.Catalog = preset.Builtin()
	}
	if deps.Stats == nil {
		deps.Stats = stats.New()
	}
	retry := cfg.CapacityRetryAfter
	if retry <= 0 {
		retry = 5 * time.Second
	}
	return &Orchestrator{
		deps:       deps,
		policy:     routing.NewPolicy(cfg),
		maxRemote:  int64(cfg.MaxRemoteJobs),
		retryAfter: retry,
		preview:    cfg.AsyncPreview,
		bgTimeout:  time.Minute,
	}
}

// Process handles one upload end to end. Async uploads return as soon as the
// job is dispatched; everything else returns the stored result.
func (o *Orchestrator) Process(ctx context.Context, up models.Upload, opts models.Options) (models.ProcessResult, error) {
	start := time.Now()
	if len(up.Data) == 0 {
		return models.ProcessResult{}, fmt.Errorf("%w: empty file", models.ErrInvalidUpload)
	}
	if opts.Priority == 0 {
		opts.Priority = models.PriorityNormal
	}
	if _, ok := o.deps.Catalog[opts.Preset]; !ok && opts.Preset != "" {
		return models.ProcessResult{}, fmt.Errorf("%w: unknown preset %q", models.ErrInvalidUpload, opts.Preset)
	}

	dec, err := o.route(up, opts)
	if err != nil {
		return models.ProcessResult{}, err
	}
	telemetry.UploadsTotal.WithLabelValues(string(dec.Target), string(dec.Mode)).Inc()
	log.Printf("orchestrator: file=%s size=%d target=%s mode=%s reason=%s", up.Name, len(up.Data), dec.Target, dec.Mode, dec.Reason)

	switch {
	case dec.Target == models.TargetLocal:
		return o.processLocal(ctx, up, opts, dec, start)
	case dec.Mode == models.ModeAsync:
		return o.submitAsync(ctx, up, opts, dec, start)
	default:
		return o.processRemote(ctx, up, opts, dec, start)
	}
}

// route applies the routing policy and then backpressure. A remote decision
// holds a reserved slot that the remote path must release. Priority traffic and
// sync calls over the ceiling degrade to local; other async calls are rejected.
func (o *Orchestrator) route(up models.Upload, opts models.Options) (routing.Decision, error) {
	dec := o.policy.Decide(int64(len(up.Data)), up.MimeType, opts, int(o.active.Load()))
	if dec.Target != models.TargetRemote {
		return dec, nil
	}
	if opts.SkipProcessing {
		return routing.Decision{Target: models.TargetLocal, Mode: models.ModeSync, Reason: "skip_processing"}, nil
	}
	load, ok := o.tryAcquire()
	if ok {
		return dec, nil
	}
	if opts.Priority.IsHigh() || dec.Mode == models.ModeSync {
		return routing.Decision{Target: models.TargetLocal, Mode: models.ModeSync, Reason: "capacity_degraded"}, nil
	}
	telemetry.CapacityRejects.Inc()
	return dec, &models.CapacityError{Active: int(load), Limit: int(o.maxRemote), RetryAfter: o.retryAfter}
}

// tryAcquire reserves a remote slot unless the ceiling is reached. It returns
// the load it observed.
func (o *Orchestrator) tryAcquire() (int64, bool) {
	for {
		n := o.active.Load()
		if o.maxRemote > 0 && n >= o.maxRemote {
			return n, false
		}
		if o.active.CompareAndSwap(n, n+1) {
			telemetry.RemoteInFlight.Inc()
			return n, true
		}
	}
}

func (o *Orchestrator) release() {
	o.active.Add(-1)
	telemetry.RemoteInFlight.Dec()
}

// ActiveRemote is the number of remote jobs not yet consumed.
func (o *Orchestrator) ActiveRemote() int64 {
	return o.active.Load()
}

// Wait blocks until background async completions have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status returns the async status record for id, or a view of a sync job
// still held by the registry.
func (o *Orchestrator) Status(ctx context.Context, id string) (models.StatusRecord, error) {
	if o.deps.Status != nil {
		rec, err := o.deps.Status.Get(ctx, id)
		if err == nil || !errors.Is(err, models.ErrUnknownJob) {
			return rec, err
		}
	}
	job, err := o.deps.Registry.Status(id)
	if err != nil {
		return models.StatusRecord{}, err
	}
	rec := models.StatusRecord{
		JobID:     job.ID,
		Status:    job.Status,
		FileName:  job.File.Name,
		StartTime: job.StartTime,
		ElapsedMs: job.Duration().Milliseconds(),
		Error:     job.Error,
	}
	if job.Status.IsTerminal() {
		end := job.EndTime
		rec.CompletedAt = &end
	}
	return rec, nil
}

func (o *Orchestrator) Stats() stats.Snapshot {
	return o.deps.Stats.Snapshot(o.active.Load())
}

// fallbackReason names the remote failure that triggered local processing.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	case errors.Is(err, models.ErrMalformedResult):
		return "malformed_result"
	case errors.Is(err, models.ErrRemote):
		return "remote_error"
	case errors.Is(err, models.ErrDispatch):
		return "dispatch_error"
	default:
		return "remote_failure"
	}
}
