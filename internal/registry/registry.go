package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"media-gateway/internal/models"
)

// ErrAlreadyTerminal is returned when a second terminal event targets the same job.
var ErrAlreadyTerminal = errors.New("job already terminal")

// Outcome is delivered exactly once per job on its Done channel.
type Outcome struct {
	Job    models.Job
	Result *models.ResultEnvelope
	Err    error
}

// Ticket is the caller's handle on a registered job.
type Ticket struct {
	ID       string
	Deadline time.Time
	done     <-chan Outcome
}

// Done yields the single terminal outcome of the job.
func (t Ticket) Done() <-chan Outcome {
	return t.done
}

// Options configures deadlines and retention.
type Options struct {
	BaseDeadline time.Duration
	MaxDeadline  time.Duration
	// BytesPerSec stretches the deadline with payload size.
	BytesPerSec int64
	// Retention reaps terminal jobs nobody removed. Zero disables reaping.
	Retention time.Duration
	// OnTerminal is called once per job, outside the registry lock.
	OnTerminal func(models.Job)
}

type entry struct {
	job   models.Job
	seq   uint64
	timer *time.Timer
	reap  *time.Timer
	done  chan Outcome
}

// Registry is the in-memory correlation table of outstanding remote calls.
// Every mutation happens under one mutex so terminal checks and transitions are atomic.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*entry
	seq  uint64
	opts Options
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.BaseDeadline <= 0 {
		opts.BaseDeadline = 10 * time.Second
	}
	if opts.MaxDeadline < opts.BaseDeadline {
		opts.MaxDeadline = opts.BaseDeadline
	}
	return &Registry{jobs: make(map[string]*entry), opts: opts}
}

// DeadlineFor returns min(max, base + size/rate).
func (r *Registry) DeadlineFor(size int64) time.Duration {
	d := r.opts.BaseDeadline
	if r.opts.BytesPerSec > 0 && size > 0 {
		d += time.Duration(float64(size) / float64(r.opts.BytesPerSec) * float64(time.Second))
	}
	if d > r.opts.MaxDeadline {
		d = r.opts.MaxDeadline
	}
	return d
}

// Register stores a new pending job and arms its deadline.
func (r *Registry) Register(file models.FileInfo, opts models.Options) Ticket {
	now := time.Now()
	timeout := r.DeadlineFor(file.Size)
	e := &entry{
		job: models.Job{
			ID:        NewID(now, file.Checksum),
			Status:    models.StatusPending,
			File:      file,
			Options:   opts,
			StartTime: now,
			Deadline:  now.Add(timeout),
		},
		done: make(chan Outcome, 1),
	}
	id := e.job.ID

	r.mu.Lock()
	r.seq++
	e.seq = r.seq
	r.jobs[id] = e
	e.timer = time.AfterFunc(timeout, func() { r.Expire(id) })
	r.mu.Unlock()

	return Ticket{ID: id, Deadline: e.job.Deadline, done: e.done}
}

// MarkProcessing moves a pending job to processing.
func (r *Registry) MarkProcessing(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownJob, id)
	}
	if !e.job.Status.CanTransition(models.StatusProcessing) {
		return fmt.Errorf("job %s: cannot move %s -> processing", id, e.job.Status)
	}
	e.job.Status = models.StatusProcessing
	return nil
}

// Resolve completes a job with the worker's result.
func (r *Registry) Resolve(id string, res models.ResultEnvelope) error {
	return r.terminate(id, models.StatusCompleted, &res, nil)
}

// Fail terminates a job with an error.
func (r *Registry) Fail(id string, cause error) error {
	if cause == nil {
		cause = errors.New("failed without cause")
	}
	return r.terminate(id, models.StatusFailed, nil, cause)
}

// Expire is invoked by the deadline timer. It reports whether the job was still live.
func (r *Registry) Expire(id string) bool {
	err := r.terminate(id, models.StatusTimeout, nil, fmt.Errorf("%w: job %s", models.ErrTimeout, id))
	return err == nil
}

func (r *Registry) terminate(id string, status models.JobStatus, res *models.ResultEnvelope, cause error) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrUnknownJob, id)
	}
	if e.job.Status.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, e.job.Status)
	}
	e.timer.Stop()
	e.job.Status = status
	e.job.EndTime = time.Now()
	e.job.Result = res
	if cause != nil {
		e.job.Error = cause.Error()
	}
	if r.opts.Retention > 0 {
		e.reap = time.AfterFunc(r.opts.Retention, func() { r.Remove(id) })
	}
	job := e.job
	r.mu.Unlock()

	// The hook runs before the waiter wakes so its effects are visible to it.
	// Only the first terminal transition reaches this point, so the send never blocks.
	if r.opts.OnTerminal != nil {
		r.opts.OnTerminal(job)
	}
	e.done <- Outcome{Job: job, Result: res, Err: cause}
	return nil
}

// Status returns a copy of the job.
func (r *Registry) Status(id string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", models.ErrUnknownJob, id)
	}
	return e.job, nil
}

// Remove drops a terminal job. Live jobs are never removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || !e.job.Status.IsTerminal() {
		return false
	}
	if e.reap != nil {
		e.reap.Stop()
	}
	delete(r.jobs, id)
	return true
}

// OldestActive returns the earliest registered job that is still pending or processing.
func (r *Registry) OldestActive() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *entry
	for _, e := range r.jobs {
		if e.job.Status.IsTerminal() {
			continue
		}
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.job.ID, true
}

// Active counts jobs that have not reached a terminal state.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.jobs {
		if !e.job.Status.IsTerminal() {
			n++
		}
	}
	return n
}
