package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

const configurationColumns = `id, key, value, type, category, description, is_public, is_editable, validation, default_value, last_modified_by, tags, version, created_at, updated_at`

// ConfigurationRepository provides database access to configuration entries.
type ConfigurationRepository struct {
	db *sqlx.DB
}

// NewConfigurationRepository creates a new instance of ConfigurationRepository.
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// GetByKey returns a configuration entry by its unique key.
func (r *ConfigurationRepository) GetByKey(ctx context.Context, key string) (*models.Configuration, error) {
	const query = `SELECT ` + configurationColumns + ` FROM configurations WHERE key = $1 LIMIT 1`
	var cfg models.Configuration
	if err := r.db.GetContext(ctx, &cfg, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get configuration by key: %w", err)
	}
	return &cfg, nil
}

// List returns configuration entries matching the filter, sorted by category
// then key, together with the unpaginated total.
func (r *ConfigurationRepository) List(ctx context.Context, filter models.ConfigurationFilter) ([]models.Configuration, int, error) {
	baseQuery := `FROM configurations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, *filter.Category)
	}
	if filter.IsPublic != nil {
		conditions = append(conditions, fmt.Sprintf("is_public = $%d", len(args)+1))
		args = append(args, *filter.IsPublic)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(key) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY category ASC, key ASC LIMIT %d OFFSET %d", configurationColumns, baseQuery, pageSize, offset)

	var entries []models.Configuration
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list configurations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count configurations: %w", err)
	}

	return entries, total, nil
}

// ListPublic returns the public entries, optionally narrowed to one category.
func (r *ConfigurationRepository) ListPublic(ctx context.Context, category *models.ConfigurationCategory) ([]models.Configuration, error) {
	query := `SELECT ` + configurationColumns + ` FROM configurations WHERE is_public = TRUE`
	var args []interface{}
	if category != nil {
		query += ` AND category = $1`
		args = append(args, *category)
	}
	query += ` ORDER BY key ASC`

	var entries []models.Configuration
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list public configurations: %w", err)
	}
	return entries, nil
}

// ListByCategory returns all entries in a category, optionally including
// private ones.
func (r *ConfigurationRepository) ListByCategory(ctx context.Context, category models.ConfigurationCategory, includePrivate bool) ([]models.Configuration, error) {
	query := `SELECT ` + configurationColumns + ` FROM configurations WHERE category = $1`
	if !includePrivate {
		query += ` AND is_public = TRUE`
	}
	query += ` ORDER BY key ASC`

	var entries []models.Configuration
	if err := r.db.SelectContext(ctx, &entries, query, category); err != nil {
		return nil, fmt.Errorf("list configurations by category: %w", err)
	}
	return entries, nil
}

// ListAll returns every entry sorted by category then key, optionally
// narrowed to one category. Used by the export endpoint.
func (r *ConfigurationRepository) ListAll(ctx context.Context, category *models.ConfigurationCategory) ([]models.Configuration, error) {
	query := `SELECT ` + configurationColumns + ` FROM configurations WHERE 1=1`
	var args []interface{}
	if category != nil {
		query += ` AND category = $1`
		args = append(args, *category)
	}
	query += ` ORDER BY category ASC, key ASC`

	var entries []models.Configuration
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list all configurations: %w", err)
	}
	return entries, nil
}

// CategorySummaries aggregates entry counts per category.
func (r *ConfigurationRepository) CategorySummaries(ctx context.Context) ([]models.CategorySummary, error) {
	const query = `SELECT category, COUNT(*) AS count, COUNT(*) FILTER (WHERE is_public) AS public_count FROM configurations GROUP BY category ORDER BY category ASC`
	var summaries []models.CategorySummary
	if err := r.db.SelectContext(ctx, &summaries, query); err != nil {
		return nil, fmt.Errorf("summarise configuration categories: %w", err)
	}
	return summaries, nil
}

// Create inserts a new configuration entry. A duplicate key surfaces as a
// conflict without touching the existing row.
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.Configuration) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Version <= 0 {
		cfg.Version = 1
	}
	if cfg.Tags == nil {
		cfg.Tags = pq.StringArray{}
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	const query = `INSERT INTO configurations (id, key, value, type, category, description, is_public, is_editable, validation, default_value, last_modified_by, tags, version, created_at, updated_at)
VALUES (:id, :key, :value, :type, :category, :description, :is_public, :is_editable, :validation, :default_value, :last_modified_by, :tags, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cfg); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("configuration with key %q already exists", cfg.Key))
		}
		return fmt.Errorf("create configuration: %w", err)
	}
	return nil
}

// ConfigurationUpdate describes a partial update. Nil fields keep the stored
// column; every application bumps the version by one in the same statement.
type ConfigurationUpdate struct {
	Value       *models.ConfigValue
	Description *string
	IsPublic    *bool
	Tags        *[]string
	ModifiedBy  string
}

// Update applies a partial update and returns the stored row after the
// version bump. A missing key surfaces as sql.ErrNoRows.
func (r *ConfigurationRepository) Update(ctx context.Context, key string, update ConfigurationUpdate) (*models.Configuration, error) {
	sets := []string{"version = version + 1", "updated_at = $2", "last_modified_by = $3"}
	args := []interface{}{key, time.Now().UTC(), update.ModifiedBy}

	if update.Value != nil {
		sets = append(sets, fmt.Sprintf("value = $%d", len(args)+1))
		args = append(args, *update.Value)
	}
	if update.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)+1))
		args = append(args, *update.Description)
	}
	if update.IsPublic != nil {
		sets = append(sets, fmt.Sprintf("is_public = $%d", len(args)+1))
		args = append(args, *update.IsPublic)
	}
	if update.Tags != nil {
		sets = append(sets, fmt.Sprintf("tags = $%d", len(args)+1))
		args = append(args, pq.StringArray(*update.Tags))
	}

	query := fmt.Sprintf("UPDATE configurations SET %s WHERE key = $1 RETURNING %s", strings.Join(sets, ", "), configurationColumns)

	var cfg models.Configuration
	if err := r.db.GetContext(ctx, &cfg, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update configuration: %w", err)
	}
	return &cfg, nil
}

// Delete removes a configuration entry. A missing key surfaces as
// sql.ErrNoRows.
func (r *ConfigurationRepository) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM configurations WHERE key = $1`
	result, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete configuration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete configuration rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (class 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
