package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"media-gateway/internal/models"
	"media-gateway/internal/preset"
	"media-gateway/internal/registry"
)

// Publisher sends work envelopes on the outbound channel.
type Publisher interface {
	PublishWork(ctx context.Context, env models.WorkEnvelope) error
}

// Dispatcher registers remote calls and publishes their envelopes.
type Dispatcher struct {
	reg        *registry.Registry
	pub        Publisher
	catalog    preset.Catalog
	maxPayload int64
}

// New builds a dispatcher. maxPayload <= 0 disables the size bound.
func New(reg *registry.Registry, pub Publisher, catalog preset.Catalog, maxPayload int64) *Dispatcher {
	return &Dispatcher{reg: reg, pub: pub, catalog: catalog, maxPayload: maxPayload}
}

// Submit validates and encodes the upload, registers a job, and publishes it.
// Errors before registration leave nothing behind in the registry. A publish
// error after registration returns the ticket too: the job stays registered
// and expires through its deadline.
func (d *Dispatcher) Submit(ctx context.Context, up models.Upload, opts models.Options) (registry.Ticket, error) {
	if len(up.Data) == 0 {
		return registry.Ticket{}, fmt.Errorf("%w: empty payload", models.ErrDispatch)
	}
	if d.maxPayload > 0 && int64(len(up.Data)) > d.maxPayload {
		return registry.Ticket{}, fmt.Errorf("%w: payload %d bytes exceeds %d", models.ErrDispatch, len(up.Data), d.maxPayload)
	}
	if opts.Priority == 0 {
		opts.Priority = models.PriorityNormal
	}

	sum := sha256.Sum256(up.Data)
	file := models.FileInfo{
		Name:     up.Name,
		Size:     int64(len(up.Data)),
		MimeType: up.MimeType,
		Checksum: hex.EncodeToString(sum[:]),
	}
	p := d.catalog.Resolve(opts.Preset)
	payload := base64.StdEncoding.EncodeToString(up.Data)

	ticket := d.reg.Register(file, opts)
	if err := d.reg.MarkProcessing(ticket.ID); err != nil {
		log.Printf("dispatch: job=%s mark processing: %v", ticket.ID, err)
	}

	env := models.WorkEnvelope{
		ID:        ticket.ID,
		FileName:  file.Name,
		MimeType:  file.MimeType,
		Size:      file.Size,
		Payload:   payload,
		Priority:  int(opts.Priority),
		TenantID:  opts.TenantID,
		CompanyID: opts.CompanyID,
		Module:    opts.Module,
		Preset: models.PresetParams{
			Name:    string(p.Name),
			Width:   p.Width,
			Height:  p.Height,
			Quality: p.Quality,
			Format:  string(p.Format),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := d.pub.PublishWork(ctx, env); err != nil {
		log.Printf("dispatch: job=%s publish failed, expires at %s: %v", ticket.ID, ticket.Deadline.Format(time.RFC3339), err)
		return ticket, fmt.Errorf("%w: %v", models.ErrDispatch, err)
	}
	log.Printf("dispatch: job=%s file=%s size=%d preset=%s priority=%d", ticket.ID, file.Name, file.Size, p.Name, opts.Priority)
	return ticket, nil
}
