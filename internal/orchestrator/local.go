package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"media-gateway/internal/models"
	"media-gateway/internal/routing"
	"media-gateway/internal/storage"
	"media-gateway/internal/telemetry"
	"media-gateway/internal/transform"
)

// transformLocal runs the local processor. record is false when the upload was
// already counted as a remote outcome by the registry.
func (o *Orchestrator) transformLocal(ctx context.Context, up models.Upload, opts models.Options, record bool) ([]byte, transform.Descriptor, error) {
	ps := o.deps.Catalog.Resolve(opts.Preset)
	out, desc, err := o.deps.Processor.Process(ctx, up.Data, up.MimeType, ps, opts.SkipProcessing)
	if record {
		o.deps.Stats.RecordOutcome(models.TargetLocal, err == nil, desc.Duration)
	}
	if err != nil {
		return nil, desc, err
	}
	return out, desc, nil
}

func (o *Orchestrator) processLocal(ctx context.Context, up models.Upload, opts models.Options, dec routing.Decision, start time.Time) (models.ProcessResult, error) {
	out, desc, err := o.transformLocal(ctx, up, opts, true)
	if err != nil {
		return models.ProcessResult{}, err
	}
	res := models.ProcessResult{
		Target:       dec.Target,
		Mode:         dec.Mode,
		RouteReason:  dec.Reason,
		Processed:    desc.Processed,
		Processor:    models.ProcessorInfo{Local: true},
		Reason:       desc.Reason,
		OriginalSize: desc.OriginalSize,
		FinalSize:    desc.FinalSize,
		Reduction:    desc.Reduction,
	}
	return o.persist(ctx, up, opts, out, desc.MimeType, res, "", start)
}

// fallback replaces a failed remote attempt with local processing. registered
// reports whether jobID came from the registry, which counts the remote outcome.
func (o *Orchestrator) fallback(ctx context.Context, up models.Upload, opts models.Options, dec routing.Decision, jobID string, registered bool, cause error, start time.Time) (models.ProcessResult, error) {
	reason := fallbackReason(cause)
	log.Printf("orchestrator: job=%s falling back to local (%s): %v", jobID, reason, cause)
	o.deps.Stats.RecordFallback(reason)
	telemetry.FallbacksTotal.WithLabelValues(reason).Inc()

	out, desc, err := o.transformLocal(ctx, up, opts, !registered)
	if err != nil {
		return models.ProcessResult{}, err
	}
	res := models.ProcessResult{
		Target:       dec.Target,
		Mode:         dec.Mode,
		RouteReason:  dec.Reason,
		Processed:    desc.Processed,
		Processor:    models.ProcessorInfo{Local: true, Fallback: true, FallbackReason: reason},
		Reason:       desc.Reason,
		OriginalSize: desc.OriginalSize,
		FinalSize:    desc.FinalSize,
		Reduction:    desc.Reduction,
		JobID:        jobID,
	}
	recordJob := ""
	if dec.Mode == models.ModeAsync {
		recordJob = jobID
	}
	return o.persist(ctx, up, opts, out, desc.MimeType, res, recordJob, start)
}

// persist uploads the final bytes once and registers metadata unless skipped.
func (o *Orchestrator) persist(ctx context.Context, up models.Upload, opts models.Options, data []byte, mimeType string, res models.ProcessResult, jobID string, start time.Time) (models.ProcessResult, error) {
	if mimeType == "" {
		mimeType = up.MimeType
	}
	obj, err := o.deps.Storage.Upload(ctx, data, storage.Meta{
		FileName: up.Name,
		MimeType: mimeType,
		TenantID: opts.TenantID,
		Folder:   opts.Module,
	})
	if err != nil {
		if !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
		return res, err
	}
	res.StoredName = obj.Name
	res.URL = obj.URL
	res.FinalSize = int64(len(data))

	if !opts.SkipMetadata && o.deps.Metadata != nil {
		rec, err := o.deps.Metadata.CreateRecord(ctx, models.FileRecord{
			TenantID:    opts.TenantID,
			CompanyID:   opts.CompanyID,
			Provider:    opts.Provider,
			EntityType:  opts.EntityType,
			EntityID:    opts.EntityID,
			Category:    opts.Category,
			Description: opts.Description,
			Public:      opts.Public,
			FileName:    up.Name,
			MimeType:    mimeType,
			Size:        int64(len(data)),
			StoragePath: obj.Name,
			URL:         obj.URL,
			JobID:       jobID,
		})
		if err != nil {
			if !errors.Is(err, models.ErrMetadata) {
				err = fmt.Errorf("%w: %v", models.ErrMetadata, err)
			}
			return res, err
		}
		res.Record = &rec
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res, nil
}
