package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
	"media-gateway/internal/preset"
	"media-gateway/internal/ratelimit"
	"media-gateway/internal/stats"
)

type fakeGateway struct {
	gotUpload models.Upload
	gotOpts   models.Options
	result    models.ProcessResult
	err       error
	records   map[string]models.StatusRecord
}

func (g *fakeGateway) Process(_ context.Context, up models.Upload, opts models.Options) (models.ProcessResult, error) {
	g.gotUpload, g.gotOpts = up, opts
	return g.result, g.err
}

func (g *fakeGateway) Status(_ context.Context, id string) (models.StatusRecord, error) {
	rec, ok := g.records[id]
	if !ok {
		return models.StatusRecord{}, fmt.Errorf("%w: %s", models.ErrUnknownJob, id)
	}
	return rec, nil
}

func (g *fakeGateway) Stats() stats.Snapshot {
	return stats.Snapshot{Total: 3, Local: 2, Remote: 1}
}

type chanWatcher struct {
	ch chan models.StatusRecord
}

func (c *chanWatcher) Updates(context.Context, string) (<-chan models.StatusRecord, func() error, error) {
	return c.ch, func() error { return nil }, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

func multipartUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write([]byte("\xff\xd8\xff\xe0 fake jpeg"))
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

func newServer(gw *fakeGateway, w Watcher, l Limiter) *httptest.Server {
	srv := New(config.Config{MaxPayloadBytes: 1 << 20}, gw, preset.Builtin(), w, l)
	return httptest.NewServer(srv.Router())
}

func TestUploadParsesOptions(t *testing.T) {
	gw := &fakeGateway{result: models.ProcessResult{Target: models.TargetLocal, Mode: models.ModeSync, Processed: true}}
	ts := newServer(gw, nil, nil)
	defer ts.Close()

	body, ct := multipartUpload(t, map[string]string{
		"preset":                  "thumbnail",
		"priority":                "high",
		"async":                   "true",
		"use_advanced_processing": "false",
		"category":                "avatars",
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Tenant-ID", "acme")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	o := gw.gotOpts
	if o.TenantID != "acme" || o.Preset != preset.Thumbnail || o.Priority != models.PriorityHigh || !o.Async || o.Category != "avatars" {
		t.Fatalf("options not parsed: %+v", o)
	}
	if o.UseAdvancedProcessing == nil || *o.UseAdvancedProcessing {
		t.Fatalf("override not parsed")
	}
	if gw.gotUpload.Name != "photo.jpg" || gw.gotUpload.MimeType != "image/jpeg" {
		t.Fatalf("unexpected upload %+v", gw.gotUpload)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	ts := newServer(&fakeGateway{}, nil, nil)
	defer ts.Close()

	body, ct := multipartUpload(t, map[string]string{"preset": "poster"})
	resp, err := http.Post(ts.URL+"/uploads", ct, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown preset: expected 400, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/uploads", "text/plain", strings.NewReader("nope"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non multipart: expected 400, got %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  int
		retry string
	}{
		{"capacity", &models.CapacityError{Active: 5, Limit: 5, RetryAfter: 5 * time.Second}, http.StatusServiceUnavailable, "5"},
		{"transform", fmt.Errorf("%w: bad image", models.ErrTransform), http.StatusUnprocessableEntity, ""},
		{"storage", fmt.Errorf("%w: bucket down", models.ErrStorage), http.StatusBadGateway, ""},
		{"invalid", fmt.Errorf("%w: empty", models.ErrInvalidUpload), http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newServer(&fakeGateway{err: tc.err}, nil, nil)
			defer ts.Close()
			body, ct := multipartUpload(t, nil)
			resp, err := http.Post(ts.URL+"/uploads", ct, body)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
			if got := resp.Header.Get("Retry-After"); got != tc.retry {
				t.Fatalf("expected Retry-After %q, got %q", tc.retry, got)
			}
		})
	}
}

func TestRateLimitedUpload(t *testing.T) {
	ts := newServer(&fakeGateway{}, nil, denyLimiter{})
	defer ts.Close()
	body, ct := multipartUpload(t, nil)
	resp, err := http.Post(ts.URL+"/uploads", ct, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "2" {
		t.Fatalf("expected 429 with Retry-After 2, got %d %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
}

func TestStatusAndStats(t *testing.T) {
	gw := &fakeGateway{records: map[string]models.StatusRecord{
		"job-1": {JobID: "job-1", Status: models.StatusProcessing, FileName: "a.png"},
	}}
	ts := newServer(gw, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/uploads/job-1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var rec models.StatusRecord
	_ = json.NewDecoder(resp.Body).Decode(&rec)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || rec.Status != models.StatusProcessing {
		t.Fatalf("unexpected status response %d %+v", resp.StatusCode, rec)
	}

	resp, _ = http.Get(ts.URL + "/uploads/missing/status")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/stats")
	var snap stats.Snapshot
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if snap.Total != 3 || snap.Remote != 1 {
		t.Fatalf("unexpected stats %+v", snap)
	}
}

func TestWatchStreamsUntilTerminal(t *testing.T) {
	gw := &fakeGateway{records: map[string]models.StatusRecord{
		"job-2": {JobID: "job-2", Status: models.StatusProcessing},
	}}
	w := &chanWatcher{ch: make(chan models.StatusRecord, 1)}
	ts := newServer(gw, w, nil)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/uploads/job-2/watch", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first models.StatusRecord
	if err := conn.ReadJSON(&first); err != nil || first.Status != models.StatusProcessing {
		t.Fatalf("expected processing snapshot, got %+v err=%v", first, err)
	}
	w.ch <- models.StatusRecord{JobID: "job-2", Status: models.StatusCompleted, URL: "mem://x"}
	var final models.StatusRecord
	if err := conn.ReadJSON(&final); err != nil || final.Status != models.StatusCompleted || final.URL != "mem://x" {
		t.Fatalf("expected completed update, got %+v err=%v", final, err)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

type memRecords struct {
	byID map[string]models.FileRecord
	err  error
}

func (m memRecords) GetRecord(_ context.Context, tenantID, id string) (models.FileRecord, error) {
	if m.err != nil {
		return models.FileRecord{}, m.err
	}
	rec, ok := m.byID[id]
	if !ok || rec.TenantID != tenantID {
		return models.FileRecord{}, fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	return rec, nil
}

func (m memRecords) ListByEntity(_ context.Context, tenantID, entityType, entityID string, _ int) ([]models.FileRecord, error) {
	var out []models.FileRecord
	for _, rec := range m.byID {
		if rec.TenantID == tenantID && rec.EntityType == entityType && rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestRecordsEndpoints(t *testing.T) {
	srv := New(config.Config{}, &fakeGateway{}, preset.Builtin(), nil, nil)
	srv.ServeRecords(memRecords{byID: map[string]models.FileRecord{
		"r1": {ID: "r1", TenantID: "acme", EntityType: "product", EntityID: "42"},
	}})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	get := func(path, tenant string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("X-Tenant-ID", tenant)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := get("/records/r1", "acme"); code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", code)
	}
	if code := get("/records/r1", "globex"); code != http.StatusNotFound {
		t.Fatalf("other tenant: expected 404, got %d", code)
	}
	if code := get("/records/nope", "acme"); code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/records?entity_type=product&entity_id=42", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var body struct {
		Items []models.FileRecord `json:"items"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if len(body.Items) != 1 || body.Items[0].ID != "r1" {
		t.Fatalf("unexpected list %+v", body)
	}
}

func TestRecordLookupFailureIsNotNotFound(t *testing.T) {
	srv := New(config.Config{}, &fakeGateway{}, preset.Builtin(), nil, nil)
	srv.ServeRecords(memRecords{err: fmt.Errorf("%w: connection refused", models.ErrMetadata)})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/records/r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}
