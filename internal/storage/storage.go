package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"media-gateway/internal/config"
	"media-gateway/internal/transform"
)

// Meta describes an object about to be stored.
type Meta struct {
	FileName string
	MimeType string
	TenantID string
	Folder   string
}

// Object is a stored upload.
type Object struct {
	Name string
	URL  string
	Size int64
}

// Backend persists and removes uploaded bytes.
type Backend interface {
	Upload(ctx context.Context, data []byte, meta Meta) (Object, error)
	Delete(ctx context.Context, name string) error
}

// New chooses S3 when a bucket is configured, the local filesystem otherwise.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	if cfg.S3Bucket != "" {
		return NewS3(ctx, cfg)
	}
	return NewLocal(cfg.StorageDir, cfg.StoragePublicURL), nil
}

// ObjectKey builds a collision-free key: folder/tenant/date/<uuid>-<name>.<ext>.
func ObjectKey(meta Meta, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(meta.FileName), filepath.Ext(meta.FileName))
	base = sanitizeName(base)
	if base == "" {
		base = "file"
	}
	folder := meta.Folder
	if folder == "" {
		folder = "uploads"
	}
	tenant := sanitizeName(meta.TenantID)
	if tenant == "" {
		tenant = "default"
	}
	name := fmt.Sprintf("%s-%s.%s", uuid.NewString()[:8], base, transform.ExtensionForMime(meta.MimeType))
	return path.Join(sanitizeName(folder), tenant, now.UTC().Format("2006/01/02"), name)
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '.':
			b.WriteRune('-')
		}
	}
	return b.String()
}
