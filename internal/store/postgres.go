package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"media-gateway/internal/models"
)

// Store is the metadata registry for stored uploads, backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRecord inserts a file row and returns it with id and created_at filled.
func (s *Store) CreateRecord(ctx context.Context, rec models.FileRecord) (models.FileRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, tenant_id, company_id, provider, entity_type, entity_id, category, description,
			public, file_name, mime_type, size_bytes, storage_path, url, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, rec.ID, rec.TenantID, rec.CompanyID, rec.Provider, emptyToNil(rec.EntityType), emptyToNil(rec.EntityID),
		emptyToNil(rec.Category), emptyToNil(rec.Description), rec.Public, rec.FileName, rec.MimeType,
		rec.Size, rec.StoragePath, rec.URL, emptyToNil(rec.JobID), rec.CreatedAt)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("%w: insert file: %v", models.ErrMetadata, err)
	}
	return rec, nil
}

const recordColumns = `id, tenant_id, company_id, provider, entity_type, entity_id, category, description,
	public, file_name, mime_type, size_bytes, storage_path, url, job_id, created_at`

// GetRecord fetches a tenant's file row by id.
func (s *Store) GetRecord(ctx context.Context, tenantID, id string) (models.FileRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM files WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FileRecord{}, fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("%w: %v", models.ErrMetadata, err)
	}
	return rec, nil
}

// ListByEntity returns the files attached to an entity, newest first.
func (s *Store) ListByEntity(ctx context.Context, tenantID, entityType, entityID string, limit int) ([]models.FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM files
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC LIMIT $4
	`, tenantID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query files: %v", models.ErrMetadata, err)
	}
	defer rows.Close()

	var out []models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (models.FileRecord, error) {
	var rec models.FileRecord
	var entityType, entityID, category, description, jobID pgtype.Text
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.CompanyID, &rec.Provider, &entityType, &entityID, &category,
		&description, &rec.Public, &rec.FileName, &rec.MimeType, &rec.Size, &rec.StoragePath, &rec.URL, &jobID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FileRecord{}, err
		}
		return models.FileRecord{}, fmt.Errorf("scan file: %w", err)
	}
	rec.EntityType = entityType.String
	rec.EntityID = entityID.String
	rec.Category = category.String
	rec.Description = description.String
	rec.JobID = jobID.String
	return rec, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
