package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edumanage/edumanage-api/internal/models"
)

const uploadColumns = `id, owner_id, course_id, file_name, stored_name, content_type, size_bytes, created_at`

// UploadRepository provides database access for uploaded file metadata.
type UploadRepository struct {
	db *sqlx.DB
}

// NewUploadRepository creates a new instance of UploadRepository.
func NewUploadRepository(db *sqlx.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// FindByID returns upload metadata by identifier.
func (r *UploadRepository) FindByID(ctx context.Context, id string) (*models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1 LIMIT 1`
	var upload models.Upload
	if err := r.db.GetContext(ctx, &upload, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find upload by id: %w", err)
	}
	return &upload, nil
}

// ListByOwner returns all uploads owned by a user, newest first.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE owner_id = $1 ORDER BY created_at DESC`
	var uploads []models.Upload
	if err := r.db.SelectContext(ctx, &uploads, query, ownerID); err != nil {
		return nil, fmt.Errorf("list uploads by owner: %w", err)
	}
	return uploads, nil
}

// ListByCourse returns all uploads attached to a course, newest first.
func (r *UploadRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE course_id = $1 ORDER BY created_at DESC`
	var uploads []models.Upload
	if err := r.db.SelectContext(ctx, &uploads, query, courseID); err != nil {
		return nil, fmt.Errorf("list uploads by course: %w", err)
	}
	return uploads, nil
}

// Create inserts upload metadata.
func (r *UploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	if upload.ID == "" {
		upload.ID = uuid.NewString()
	}
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO uploads (id, owner_id, course_id, file_name, stored_name, content_type, size_bytes, created_at)
VALUES (:id, :owner_id, :course_id, :file_name, :stored_name, :content_type, :size_bytes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, upload); err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

// Delete removes upload metadata.
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM uploads WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete upload rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
