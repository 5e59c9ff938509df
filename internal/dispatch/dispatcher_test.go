package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"media-gateway/internal/models"
	"media-gateway/internal/preset"
	"media-gateway/internal/registry"
)

type recordingPublisher struct {
	sent []models.WorkEnvelope
	err  error
}

func (p *recordingPublisher) PublishWork(_ context.Context, env models.WorkEnvelope) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func TestSubmitBuildsEnvelope(t *testing.T) {
	reg := registry.New(registry.Options{BaseDeadline: time.Minute, MaxDeadline: time.Minute})
	pub := &recordingPublisher{}
	d := New(reg, pub, preset.Builtin(), 0)

	data := []byte("image-bytes")
	ticket, err := d.Submit(context.Background(), models.Upload{Name: "a.png", MimeType: "image/png", Data: data}, models.Options{
		TenantID: "t1", CompanyID: "c1", Module: "catalog", Preset: preset.Thumbnail,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one envelope, got %d", len(pub.sent))
	}
	env := pub.sent[0]
	if env.ID != ticket.ID || env.TenantID != "t1" || env.Module != "catalog" || env.Size != int64(len(data)) {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Preset.Name != "thumbnail" || env.Preset.Width != 150 || env.Priority != int(models.PriorityNormal) {
		t.Fatalf("preset/priority not resolved: %+v", env)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(env.Payload); string(decoded) != string(data) {
		t.Fatalf("payload not encoded correctly")
	}
	job, err := reg.Status(ticket.ID)
	if err != nil || job.Status != models.StatusProcessing || len(job.File.Checksum) != 64 {
		t.Fatalf("job not registered as processing: %+v err=%v", job, err)
	}
}

func TestSubmitRejectsBeforeRegistration(t *testing.T) {
	reg := registry.New(registry.Options{BaseDeadline: time.Minute, MaxDeadline: time.Minute})
	d := New(reg, &recordingPublisher{}, preset.Builtin(), 4)

	_, err := d.Submit(context.Background(), models.Upload{Name: "big", Data: []byte("too large")}, models.Options{})
	if !errors.Is(err, models.ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if reg.Active() != 0 {
		t.Fatalf("no job should be registered, got %d", reg.Active())
	}
}

func TestPublishFailureLeavesJobToExpire(t *testing.T) {
	reg := registry.New(registry.Options{BaseDeadline: 20 * time.Millisecond, MaxDeadline: 20 * time.Millisecond})
	d := New(reg, &recordingPublisher{err: errors.New("connection refused")}, preset.Builtin(), 0)

	ticket, err := d.Submit(context.Background(), models.Upload{Name: "a.jpg", Data: []byte("x")}, models.Options{})
	if !errors.Is(err, models.ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if ticket.ID == "" {
		t.Fatalf("ticket should be returned after registration")
	}
	select {
	case out := <-ticket.Done():
		if !errors.Is(out.Err, models.ErrTimeout) {
			t.Fatalf("expected timeout, got %v", out.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("job hung after publish failure")
	}
}
