package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/repository"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/export"
)

const publicConfigCachePrefix = "configurations:public"

// Well-known configuration keys read by sibling services.
const (
	KeySiteName                  = "site_name"
	KeyMaintenanceMode           = "maintenance_mode"
	KeyMaxCourseCapacity         = "max_course_capacity"
	KeyCourseApprovalRequired    = "course_approval_required"
	KeyEnrollmentOpen            = "enrollment_open"
	KeyStudentRegistrationOpen   = "student_registration_open"
	KeyTeacherRegistrationOpen   = "teacher_registration_open"
	KeyAssignmentLatePenalty     = "assignment_late_penalty"
	KeyAssignmentAutoGrade       = "assignment_auto_grade"
	KeyMaxSubmissionAttempts     = "max_submission_attempts"
	KeyGradeScale                = "grade_scale"
	KeyAttendanceRequiredPct     = "attendance_required_percentage"
	KeyEmailNotificationsEnabled = "email_notifications_enabled"
	KeyNotificationChannels      = "notification_channels"
	KeyMaxFileSize               = "max_file_size"
	KeyAllowedFileTypes          = "allowed_file_types"
	KeyPasswordMinLength         = "password_min_length"
	KeyMaxLoginAttempts          = "max_login_attempts"
	KeySatisfactionWeights       = "satisfaction_weights"
)

type configurationStore interface {
	GetByKey(ctx context.Context, key string) (*models.Configuration, error)
	List(ctx context.Context, filter models.ConfigurationFilter) ([]models.Configuration, int, error)
	ListPublic(ctx context.Context, category *models.ConfigurationCategory) ([]models.Configuration, error)
	ListAll(ctx context.Context, category *models.ConfigurationCategory) ([]models.Configuration, error)
	CategorySummaries(ctx context.Context) ([]models.CategorySummary, error)
	Create(ctx context.Context, cfg *models.Configuration) error
	Update(ctx context.Context, key string, update repository.ConfigurationUpdate) (*models.Configuration, error)
	Delete(ctx context.Context, key string) error
}

type configurationUserReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// ConfigurationService orchestrates the configuration store: admin CRUD,
// the public projection, and typed read access for the other services.
type ConfigurationService struct {
	repo      configurationStore
	audit     auditWriter
	users     configurationUserReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	publicTTL time.Duration
}

// NewConfigurationService constructs a ConfigurationService.
func NewConfigurationService(repo configurationStore, audit auditWriter, users configurationUserReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger, publicTTL time.Duration) *ConfigurationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publicTTL <= 0 {
		publicTTL = 5 * time.Minute
	}
	return &ConfigurationService{
		repo:      repo,
		audit:     audit,
		users:     users,
		cache:     cache,
		validator: validate,
		logger:    logger,
		publicTTL: publicTTL,
	}
}

// List returns one page of entries plus the pagination block.
func (s *ConfigurationService) List(ctx context.Context, filter models.ConfigurationFilter) (*dto.ConfigurationPage, error) {
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list configurations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.PageSize
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	if rows == nil {
		rows = []models.Configuration{}
	}
	return &dto.ConfigurationPage{
		Configurations: rows,
		Pagination:     dto.PageInfo{Current: page, Pages: pages, Total: total, Limit: limit},
	}, nil
}

// Get returns a single entry by key.
func (s *ConfigurationService) Get(ctx context.Context, key string) (*models.Configuration, error) {
	cfg, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	return cfg, nil
}

// Categories returns every category present in the store with its counts.
func (s *ConfigurationService) Categories(ctx context.Context) ([]models.CategorySummary, error) {
	summaries, err := s.repo.CategorySummaries(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise categories")
	}
	for i := range summaries {
		summaries[i].DisplayName = summaries[i].Category.DisplayName()
	}
	return summaries, nil
}

// PublicProjection collapses all public entries into a flat key→value map.
// The unfiltered and per-category projections are cached in Redis and
// invalidated by every successful mutation.
func (s *ConfigurationService) PublicProjection(ctx context.Context, category *models.ConfigurationCategory) (map[string]interface{}, error) {
	cacheKey := publicConfigCachePrefix
	if category != nil {
		cacheKey = publicConfigCachePrefix + ":" + string(*category)
	}
	var cached map[string]interface{}
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	rows, err := s.repo.ListPublic(ctx, category)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load public configurations")
	}
	projection := make(map[string]interface{}, len(rows))
	for _, cfg := range rows {
		projection[cfg.Key] = cfg.FormattedValue()
	}

	if err := s.cache.Set(ctx, cacheKey, projection, s.publicTTL); err != nil {
		s.logger.Warn("failed to cache public configuration projection", zap.Error(err))
	}
	return projection, nil
}

// Create registers a new configuration entry.
func (s *ConfigurationService) Create(ctx context.Context, req dto.CreateConfigurationRequest, actor *models.JWTClaims) (*models.Configuration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid configuration payload")
	}

	key := strings.TrimSpace(req.Key)
	cfgType := models.ConfigurationType(req.Type)
	if !cfgType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported configuration type %q", req.Type))
	}
	category := models.ConfigurationCategory(req.Category)
	if !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported configuration category %q", req.Category))
	}

	var value models.ConfigValue
	if err := json.Unmarshal(req.Value, &value); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "value is not valid JSON")
	}

	rules := models.ValidationRules{}
	if req.Validation != nil {
		rules = *req.Validation
	}
	if details := models.ValidateValue(value, cfgType, rules); len(details) > 0 {
		return nil, appErrors.Validation(details)
	}

	defaultValue := models.NullValue()
	if len(req.DefaultValue) > 0 {
		if err := json.Unmarshal(req.DefaultValue, &defaultValue); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "default_value is not valid JSON")
		}
	}

	if _, err := s.repo.GetByKey(ctx, key); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("configuration with key %q already exists", key))
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check configuration key")
	}

	isPublic := false
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	isEditable := true
	if req.IsEditable != nil {
		isEditable = *req.IsEditable
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	cfg := &models.Configuration{
		Key:            key,
		Value:          value,
		Type:           cfgType,
		Category:       category,
		Description:    req.Description,
		IsPublic:       isPublic,
		IsEditable:     isEditable,
		Validation:     rules,
		DefaultValue:   defaultValue,
		LastModifiedBy: actorIDPtr(actor),
		Tags:           pq.StringArray(tags),
		Version:        1,
	}
	if err := s.repo.Create(ctx, cfg); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create configuration")
	}

	s.emitAudit(ctx, actor, models.AuditActionConfigCreate, cfg.Key, nil, cfg.Value)
	s.invalidatePublic(ctx)
	return cfg, nil
}

// Update applies a partial update to an editable entry, re-validating the
// value against the entry's stored rules before persisting.
func (s *ConfigurationService) Update(ctx context.Context, key string, req dto.UpdateConfigurationRequest, actor *models.JWTClaims) (*models.Configuration, error) {
	existing, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	if !existing.IsEditable {
		return nil, appErrors.Clone(appErrors.ErrNotEditable, "")
	}

	update := repository.ConfigurationUpdate{
		Description: req.Description,
		IsPublic:    req.IsPublic,
		Tags:        req.Tags,
		ModifiedBy:  actorID(actor),
	}
	if len(req.Value) > 0 {
		var value models.ConfigValue
		if err := json.Unmarshal(req.Value, &value); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "value is not valid JSON")
		}
		if details := models.ValidateValue(value, existing.Type, existing.Validation); len(details) > 0 {
			return nil, appErrors.Validation(details)
		}
		update.Value = &value
	}

	updated, err := s.repo.Update(ctx, key, update)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update configuration")
	}

	s.emitAudit(ctx, actor, models.AuditActionConfigUpdate, key, existing.Value, updated.Value)
	s.invalidatePublic(ctx)
	return updated, nil
}

// Delete removes an editable entry.
func (s *ConfigurationService) Delete(ctx context.Context, key string, actor *models.JWTClaims) error {
	existing, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	if !existing.IsEditable {
		return appErrors.Clone(appErrors.ErrNotEditable, "")
	}

	if err := s.repo.Delete(ctx, key); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete configuration")
	}

	s.emitAudit(ctx, actor, models.AuditActionConfigDelete, key, existing.Value, models.NullValue())
	s.invalidatePublic(ctx)
	return nil
}

// BulkUpdate applies each {key, value} item independently, collecting
// per-item failures. Partial success is the expected outcome, not an error.
func (s *ConfigurationService) BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) (*dto.BulkUpdateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}

	resp := &dto.BulkUpdateResponse{
		Results: []dto.BulkUpdateResult{},
		Errors:  []dto.BulkUpdateError{},
	}
	for _, item := range req.Updates {
		updated, err := s.applyBulkItem(ctx, item, actor)
		if err != nil {
			appErr := appErrors.FromError(err)
			resp.Failed++
			resp.Errors = append(resp.Errors, dto.BulkUpdateError{Key: item.Key, Error: appErr.Message, Details: appErr.Details})
			continue
		}
		resp.Updated++
		resp.Results = append(resp.Results, dto.BulkUpdateResult{Key: item.Key, Version: updated.Version})
	}

	if resp.Updated > 0 {
		s.invalidatePublic(ctx)
	}
	s.emitAudit(ctx, actor, models.AuditActionConfigBulk, "bulk-update", nil, map[string]int{"updated": resp.Updated, "failed": resp.Failed})
	return resp, nil
}

func (s *ConfigurationService) applyBulkItem(ctx context.Context, item dto.BulkUpdateItem, actor *models.JWTClaims) (*models.Configuration, error) {
	existing, err := s.repo.GetByKey(ctx, item.Key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	if !existing.IsEditable {
		return nil, appErrors.Clone(appErrors.ErrNotEditable, "")
	}

	var value models.ConfigValue
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "value is not valid JSON")
	}
	if details := models.ValidateValue(value, existing.Type, existing.Validation); len(details) > 0 {
		return nil, appErrors.Validation(details)
	}

	updated, err := s.repo.Update(ctx, item.Key, repository.ConfigurationUpdate{Value: &value, ModifiedBy: actorID(actor)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update configuration")
	}
	return updated, nil
}

// Reset copies the entry's default value back into value. The default is
// trusted as-is: it is not re-validated against the current rules, matching
// the behaviour documented for the store.
func (s *ConfigurationService) Reset(ctx context.Context, key string, actor *models.JWTClaims) (*models.Configuration, error) {
	existing, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	if !existing.IsEditable {
		return nil, appErrors.Clone(appErrors.ErrNotEditable, "")
	}
	if existing.DefaultValue.IsNull() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "configuration has no default value")
	}

	def := existing.DefaultValue
	updated, err := s.repo.Update(ctx, key, repository.ConfigurationUpdate{Value: &def, ModifiedBy: actorID(actor)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset configuration")
	}

	s.emitAudit(ctx, actor, models.AuditActionConfigReset, key, existing.Value, updated.Value)
	s.invalidatePublic(ctx)
	return updated, nil
}

// Export returns the JSON export envelope.
func (s *ConfigurationService) Export(ctx context.Context, category *models.ConfigurationCategory) (*dto.ConfigurationExport, error) {
	rows, err := s.repo.ListAll(ctx, category)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export configurations")
	}
	if rows == nil {
		rows = []models.Configuration{}
	}
	return &dto.ConfigurationExport{
		ExportedAt:     time.Now().UTC(),
		Count:          len(rows),
		Configurations: rows,
	}, nil
}

// ExportDataset flattens all entries into tabular rows for CSV rendering,
// resolving modifier IDs to full names where possible.
func (s *ConfigurationService) ExportDataset(ctx context.Context, category *models.ConfigurationCategory) (*export.Dataset, error) {
	rows, err := s.repo.ListAll(ctx, category)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export configurations")
	}

	names := s.modifierNames(ctx, rows)
	dataset := &export.Dataset{
		Headers: []string{"key", "value", "type", "category", "description", "is_public", "is_editable", "version", "last_modified_by", "updated_at"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, cfg := range rows {
		modifier := ""
		if cfg.LastModifiedBy != nil {
			if name, ok := names[*cfg.LastModifiedBy]; ok {
				modifier = name
			} else {
				modifier = *cfg.LastModifiedBy
			}
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"key":              cfg.Key,
			"value":            scalarify(cfg.Value),
			"type":             string(cfg.Type),
			"category":         string(cfg.Category),
			"description":      cfg.Description,
			"is_public":        strconv.FormatBool(cfg.IsPublic),
			"is_editable":      strconv.FormatBool(cfg.IsEditable),
			"version":          strconv.Itoa(cfg.Version),
			"last_modified_by": modifier,
			"updated_at":       cfg.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return dataset, nil
}

// Number reads a number-typed setting with a soft fallback.
func (s *ConfigurationService) Number(ctx context.Context, key string, fallback float64) float64 {
	cfg, ok := s.lookup(ctx, key)
	if !ok {
		return fallback
	}
	if n, ok := cfg.Value.Number(); ok {
		return n
	}
	if text, ok := cfg.Value.Text(); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool reads a boolean-typed setting with a soft fallback.
func (s *ConfigurationService) Bool(ctx context.Context, key string, fallback bool) bool {
	cfg, ok := s.lookup(ctx, key)
	if !ok {
		return fallback
	}
	if b, ok := cfg.Value.Bool(); ok {
		return b
	}
	if text, ok := cfg.Value.Text(); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(text)); err == nil {
			return parsed
		}
	}
	return fallback
}

// Text reads a string-typed setting with a soft fallback.
func (s *ConfigurationService) Text(ctx context.Context, key, fallback string) string {
	cfg, ok := s.lookup(ctx, key)
	if !ok {
		return fallback
	}
	if text, ok := cfg.Value.Text(); ok {
		return text
	}
	return fallback
}

// Strings reads an array-typed setting, keeping only string elements.
func (s *ConfigurationService) Strings(ctx context.Context, key string, fallback []string) []string {
	cfg, ok := s.lookup(ctx, key)
	if !ok {
		return fallback
	}
	arr, ok := cfg.Value.Array()
	if !ok {
		return fallback
	}
	values := make([]string, 0, len(arr))
	for _, item := range arr {
		if text, ok := item.(string); ok {
			values = append(values, text)
		}
	}
	return values
}

// Object unmarshals an object- or json-typed setting into dest. It reports
// whether dest was populated; callers fall back to their own defaults.
func (s *ConfigurationService) Object(ctx context.Context, key string, dest interface{}) bool {
	cfg, ok := s.lookup(ctx, key)
	if !ok {
		return false
	}
	raw, err := json.Marshal(cfg.Value.Formatted(cfg.Type))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("failed to decode configuration object", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *ConfigurationService) lookup(ctx context.Context, key string) (*models.Configuration, bool) {
	cfg, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("configuration lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return cfg, true
}

func (s *ConfigurationService) invalidatePublic(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, publicConfigCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate public configuration cache", zap.Error(err))
	}
}

func (s *ConfigurationService) modifierNames(ctx context.Context, rows []models.Configuration) map[string]string {
	if s.users == nil {
		return nil
	}
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, cfg := range rows {
		if cfg.LastModifiedBy == nil || *cfg.LastModifiedBy == "" {
			continue
		}
		if _, ok := seen[*cfg.LastModifiedBy]; ok {
			continue
		}
		seen[*cfg.LastModifiedBy] = struct{}{}
		ids = append(ids, *cfg.LastModifiedBy)
	}
	if len(ids) == 0 {
		return nil
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to resolve configuration modifiers", zap.Error(err))
		return nil
	}
	names := make(map[string]string, len(users))
	for _, user := range users {
		names[user.ID] = user.FullName
	}
	return names
}

func (s *ConfigurationService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, key string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	var oldBytes, newBytes []byte
	if oldValue != nil {
		oldBytes, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		newBytes, _ = json.Marshal(newValue)
	}
	resourceID := key
	log := &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "configuration",
		ResourceID: &resourceID,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "configuration-service",
	}
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Warn("failed to record configuration audit", zap.Error(err))
	}
}

func scalarify(v models.ConfigValue) string {
	if v.IsNull() {
		return ""
	}
	if text, ok := v.Text(); ok {
		return text
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func actorID(actor *models.JWTClaims) string {
	if actor == nil {
		return ""
	}
	return actor.UserID
}

func actorIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}
