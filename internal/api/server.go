package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
	"media-gateway/internal/preset"
	"media-gateway/internal/ratelimit"
	"media-gateway/internal/stats"
	"media-gateway/internal/telemetry"
)

// Gateway is the processing core behind the HTTP surface.
type Gateway interface {
	Process(ctx context.Context, up models.Upload, opts models.Options) (models.ProcessResult, error)
	Status(ctx context.Context, id string) (models.StatusRecord, error)
	Stats() stats.Snapshot
}

// Watcher streams status record changes.
type Watcher interface {
	Updates(ctx context.Context, id string) (<-chan models.StatusRecord, func() error, error)
}

// Records reads the metadata registered for stored uploads.
type Records interface {
	GetRecord(ctx context.Context, tenantID, id string) (models.FileRecord, error)
	ListByEntity(ctx context.Context, tenantID, entityType, entityID string, limit int) ([]models.FileRecord, error)
}

// Limiter throttles uploads per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (ratelimit.Result, error)
}

// Server wires HTTP handlers for the upload gateway.
type Server struct {
	cfg      config.Config
	gw       Gateway
	watcher  Watcher
	limiter  Limiter
	records  Records
	catalog  preset.Catalog
	filesDir string
	upgrader websocket.Upgrader
}

// New constructs the API server. watcher, limiter may be nil.
func New(cfg config.Config, gw Gateway, catalog preset.Catalog, watcher Watcher, limiter Limiter) *Server {
	return &Server{
		cfg:     cfg,
		gw:      gw,
		watcher: watcher,
		limiter: limiter,
		catalog: catalog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeRecords exposes the metadata registry under /records.
func (s *Server) ServeRecords(r Records) {
	s.records = r
}

// ServeFiles exposes locally stored objects under /files.
func (s *Server) ServeFiles(dir string) {
	s.filesDir = dir
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/uploads", s.handleUpload)
	r.Get("/uploads/{id}/status", s.handleStatus)
	r.Get("/uploads/{id}/watch", s.handleWatch)
	r.Get("/stats", s.handleStats)
	if s.records != nil {
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{id}", s.handleGetRecord)
	}
	if s.filesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(s.filesDir))))
	}
	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	if s.limiter != nil {
		res, err := s.limiter.Allow(r.Context(), tenant)
		if err != nil {
			log.Printf("api: rate limit tenant=%s: %v", tenant, err)
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !res.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter.Seconds()))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	if s.cfg.MaxPayloadBytes > 0 {
		// Multipart framing needs headroom beyond the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxPayloadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file", http.StatusBadRequest)
		return
	}

	opts, err := s.parseOptions(r, tenant)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	res, err := s.gw.Process(r.Context(), models.Upload{Name: header.Filename, MimeType: mimeType, Data: data}, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if res.Mode == models.ModeAsync {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

// parseOptions validates form fields into closed enumerations once, at the boundary.
func (s *Server) parseOptions(r *http.Request, tenant string) (models.Options, error) {
	opts := models.Options{
		Provider:    r.FormValue("provider"),
		TenantID:    tenant,
		CompanyID:   r.FormValue("company_id"),
		Module:      r.FormValue("module"),
		EntityType:  r.FormValue("entity_type"),
		EntityID:    r.FormValue("entity_id"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
	}
	var err error
	if opts.Public, err = formBool(r, "public"); err != nil {
		return opts, err
	}
	if opts.Async, err = formBool(r, "async"); err != nil {
		return opts, err
	}
	if opts.SkipMetadata, err = formBool(r, "skip_metadata"); err != nil {
		return opts, err
	}
	if opts.SkipProcessing, err = formBool(r, "skip_image_processing"); err != nil {
		return opts, err
	}
	if v := r.FormValue("use_advanced_processing"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("use_advanced_processing: %w", err)
		}
		opts.UseAdvancedProcessing = &b
	}
	if v := r.FormValue("preset"); v != "" {
		if opts.Preset, err = s.catalog.ParseName(v); err != nil {
			return opts, err
		}
	}
	if v := r.FormValue("priority"); v != "" {
		if opts.Priority, err = models.ParsePriority(v); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func formBool(r *http.Request, key string) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gw.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Stats())
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetRecord(r.Context(), tenantFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	entityType, entityID := r.URL.Query().Get("entity_type"), r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		http.Error(w, "entity_type and entity_id are required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.records.ListByEntity(r.Context(), tenantFromRequest(r), entityType, entityID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

// handleWatch pushes the status record over a websocket until it is terminal.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.gw.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.watcher == nil && !rec.Status.IsTerminal() {
		http.Error(w, "watch not available", http.StatusNotImplemented)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	var updates <-chan models.StatusRecord
	if !rec.Status.IsTerminal() {
		ch, closeFn, err := s.watcher.Updates(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer closeFn()
		updates = ch
		// The record may have changed between the first read and the subscription.
		if latest, err := s.gw.Status(ctx, id); err == nil {
			rec = latest
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade job=%s: %v", id, err)
		return
	}
	defer conn.Close()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		if err := conn.WriteJSON(rec); err != nil {
			return
		}
		if rec.Status.IsTerminal() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			rec = next
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	var capErr *models.CapacityError
	switch {
	case errors.As(err, &capErr):
		w.Header().Set("Retry-After", retryAfterSeconds(capErr.RetryAfter.Seconds()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err))
	case errors.Is(err, models.ErrInvalidUpload):
		writeJSON(w, http.StatusBadRequest, errorBody(err))
	case errors.Is(err, models.ErrUnknownJob), errors.Is(err, models.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err))
	case errors.Is(err, models.ErrTransform):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err))
	case errors.Is(err, models.ErrStorage), errors.Is(err, models.ErrMetadata), errors.Is(err, models.ErrDispatch):
		writeJSON(w, http.StatusBadGateway, errorBody(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody(err))
	default:
		log.Printf("api: unexpected error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(err))
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func retryAfterSeconds(secs float64) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(secs))))
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("tenant_id")); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
