package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-gateway/internal/models"
)

// Local writes objects under a base directory.
type Local struct {
	baseDir   string
	publicURL string
}

func NewLocal(baseDir, publicURL string) *Local {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	return &Local{baseDir: baseDir, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Dir is the directory objects are written to.
func (l *Local) Dir() string {
	return l.baseDir
}

func (l *Local) Upload(ctx context.Context, data []byte, meta Meta) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	key := ObjectKey(meta, time.Now())
	full := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, fmt.Errorf("%w: create dirs: %v", models.ErrStorage, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("%w: write file: %v", models.ErrStorage, err)
	}
	url := full
	if l.publicURL != "" {
		url = l.publicURL + "/" + key
	}
	return Object{Name: key, URL: url, Size: int64(len(data))}, nil
}

// Delete is idempotent: a missing object is not an error.
func (l *Local) Delete(_ context.Context, name string) error {
	clean := filepath.Clean(filepath.FromSlash(name))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("%w: invalid object name %q", models.ErrStorage, name)
	}
	err := os.Remove(filepath.Join(l.baseDir, clean))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete: %v", models.ErrStorage, err)
	}
	return nil
}
