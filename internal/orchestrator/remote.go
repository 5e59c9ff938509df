package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"media-gateway/internal/models"
	"media-gateway/internal/registry"
	"media-gateway/internal/routing"
	"media-gateway/internal/storage"
	"media-gateway/internal/transform"
)

// processRemote dispatches the upload and blocks until the job resolves or its
// deadline fires. Any remote failure falls back to local processing. The caller
// holds the remote slot.
func (o *Orchestrator) processRemote(ctx context.Context, up models.Upload, opts models.Options, dec routing.Decision, start time.Time) (models.ProcessResult, error) {
	defer o.release()

	ticket, err := o.deps.Submitter.Submit(ctx, up, opts)
	if err != nil {
		if ticket.ID == "" && !errors.Is(err, models.ErrDispatch) {
			return models.ProcessResult{}, err
		}
		return o.fallback(ctx, up, opts, dec, ticket.ID, ticket.ID != "", err, start)
	}

	var out registry.Outcome
	select {
	case out = <-ticket.Done():
	case <-ctx.Done():
		// The job keeps its deadline and is reaped after expiring.
		return models.ProcessResult{}, ctx.Err()
	}
	o.deps.Registry.Remove(ticket.ID)

	if out.Err != nil {
		return o.fallback(ctx, up, opts, dec, ticket.ID, true, out.Err, start)
	}
	return o.completeRemote(ctx, up, opts, dec, ticket.ID, *out.Result, "", start)
}

// completeRemote turns a successful remote result into stored bytes. A result
// without payload is finished by exactly one local transform.
func (o *Orchestrator) completeRemote(ctx context.Context, up models.Upload, opts models.Options, dec routing.Decision, jobID string, env models.ResultEnvelope, recordJob string, start time.Time) (models.ProcessResult, error) {
	processedRemote := env.Processed != nil && *env.Processed
	res := models.ProcessResult{
		Target:          dec.Target,
		Mode:            dec.Mode,
		RouteReason:     dec.Reason,
		ProcessedRemote: processedRemote,
		OriginalSize:    int64(len(up.Data)),
		JobID:           jobID,
	}

	if env.HasPayload() {
		data, err := env.DecodePayload()
		if err != nil {
			return o.fallback(ctx, up, opts, dec, jobID, true, err, start)
		}
		res.Processed = processedRemote
		res.Processor = models.ProcessorInfo{Remote: true}
		res.Reduction = transform.Reduction(res.OriginalSize, int64(len(data)))
		mimeType := env.MimeType
		if mimeType == "" {
			mimeType = up.MimeType
		}
		return o.persist(ctx, up, opts, data, mimeType, res, recordJob, start)
	}

	log.Printf("orchestrator: job=%s remote result has no payload, finishing locally", jobID)
	// The registry already counted this upload as a remote outcome.
	data, desc, err := o.transformLocal(ctx, up, opts, false)
	if err != nil {
		return models.ProcessResult{}, err
	}
	res.Processed = desc.Processed
	res.Processor = models.ProcessorInfo{Local: true, Remote: true}
	res.Reason = desc.Reason
	res.Reduction = desc.Reduction
	return o.persist(ctx, up, opts, data, desc.MimeType, res, recordJob, start)
}

// submitAsync dispatches the upload, writes the initial status record and an
// optional preview, and returns a handle. Completion runs in the background.
// The caller holds the remote slot.
func (o *Orchestrator) submitAsync(ctx context.Context, up models.Upload, opts models.Options, dec routing.Decision, start time.Time) (models.ProcessResult, error) {
	ticket, dispatchErr := o.deps.Submitter.Submit(ctx, up, opts)
	registered := ticket.ID != ""
	if dispatchErr != nil && !registered {
		if !errors.Is(dispatchErr, models.ErrDispatch) {
			o.release()
			return models.ProcessResult{}, dispatchErr
		}
		// Nothing was registered; the handle still tracks the local fallback.
		ticket = registry.Ticket{ID: registry.NewID(start, ""), Deadline: start}
	}

	rec := models.StatusRecord{
		JobID:     ticket.ID,
		Status:    models.StatusProcessing,
		FileName:  up.Name,
		StartTime: start,
	}
	previewName := ""
	if o.preview && transform.IsTransformable(up.MimeType) {
		if obj, err := o.uploadPreview(ctx, up, opts); err != nil {
			log.Printf("orchestrator: job=%s preview skipped: %v", ticket.ID, err)
		} else {
			previewName = obj.Name
			rec.PreviewURL = obj.URL
		}
	}
	if o.deps.Status != nil {
		if err := o.deps.Status.Put(ctx, rec); err != nil {
			log.Printf("orchestrator: job=%s write status: %v", ticket.ID, err)
		}
	}

	o.wg.Add(1)
	go o.completeAsync(ticket, registered, up, opts, dec, start, previewName, rec, dispatchErr)

	eta := ticket.Deadline
	return models.ProcessResult{
		Target:              dec.Target,
		Mode:                dec.Mode,
		RouteReason:         dec.Reason,
		OriginalSize:        int64(len(up.Data)),
		JobID:               ticket.ID,
		Status:              models.StatusProcessing,
		EstimatedCompletion: &eta,
		StatusURL:           "/uploads/" + ticket.ID + "/status",
		PreviewURL:          rec.PreviewURL,
	}, nil
}

func (o *Orchestrator) uploadPreview(ctx context.Context, up models.Upload, opts models.Options) (storage.Object, error) {
	data, err := transform.Preview(up.Data)
	if err != nil {
		return storage.Object{}, err
	}
	return o.deps.Storage.Upload(ctx, data, storage.Meta{
		FileName: up.Name,
		MimeType: "image/jpeg",
		TenantID: opts.TenantID,
		Folder:   "previews",
	})
}

// completeAsync waits for the remote outcome, stores the final bytes, removes
// the preview and records the final status.
func (o *Orchestrator) completeAsync(ticket registry.Ticket, registered bool, up models.Upload, opts models.Options, dec routing.Decision, start time.Time, previewName string, rec models.StatusRecord, dispatchErr error) {
	defer o.wg.Done()
	defer o.release()

	var out registry.Outcome
	if dispatchErr != nil {
		out.Err = dispatchErr
	} else {
		out = <-ticket.Done()
		o.deps.Registry.Remove(ticket.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.bgTimeout)
	defer cancel()

	var res models.ProcessResult
	var err error
	if out.Err != nil {
		res, err = o.fallback(ctx, up, opts, dec, ticket.ID, registered, out.Err, start)
	} else {
		res, err = o.completeRemote(ctx, up, opts, dec, ticket.ID, *out.Result, ticket.ID, start)
	}

	if previewName != "" {
		if derr := o.deps.Storage.Delete(ctx, previewName); derr != nil {
			log.Printf("orchestrator: job=%s delete preview %s: %v", ticket.ID, previewName, derr)
		} else {
			rec.PreviewURL = ""
		}
	}

	done := time.Now()
	rec.CompletedAt = &done
	if out.Job.ID != "" {
		rec.ProcessingMs = out.Job.Duration().Milliseconds()
	}
	if err != nil {
		log.Printf("orchestrator: job=%s async completion failed: %v", ticket.ID, err)
		rec.Status = models.StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = models.StatusCompleted
		rec.Uploaded = res.URL != ""
		rec.URL = res.URL
		if res.Record != nil {
			rec.RecordID = res.Record.ID
		}
		rec.Summary = &models.ResultSummary{
			Processed:       res.Processed,
			ProcessedRemote: res.ProcessedRemote,
			Fallback:        res.Processor.Fallback,
			OriginalSize:    res.OriginalSize,
			FinalSize:       res.FinalSize,
			Reduction:       res.Reduction,
		}
	}
	if o.deps.Status != nil {
		if err := o.deps.Status.Put(ctx, rec); err != nil {
			log.Printf("orchestrator: job=%s write final status: %v", ticket.ID, err)
		}
	}
}
