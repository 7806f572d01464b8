package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/repository"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type configurationStoreStub struct {
	items map[string]models.Configuration
	err   error
}

func (s *configurationStoreStub) GetByKey(ctx context.Context, key string) (*models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	if cfg, ok := s.items[key]; ok {
		copied := cfg
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *configurationStoreStub) List(ctx context.Context, filter models.ConfigurationFilter) ([]models.Configuration, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	rows := []models.Configuration{}
	for _, cfg := range s.items {
		rows = append(rows, cfg)
	}
	return rows, len(rows), nil
}

func (s *configurationStoreStub) ListPublic(ctx context.Context, category *models.ConfigurationCategory) ([]models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	rows := []models.Configuration{}
	for _, cfg := range s.items {
		if !cfg.IsPublic {
			continue
		}
		if category != nil && cfg.Category != *category {
			continue
		}
		rows = append(rows, cfg)
	}
	return rows, nil
}

func (s *configurationStoreStub) ListAll(ctx context.Context, category *models.ConfigurationCategory) ([]models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	rows := []models.Configuration{}
	for _, cfg := range s.items {
		if category != nil && cfg.Category != *category {
			continue
		}
		rows = append(rows, cfg)
	}
	return rows, nil
}

func (s *configurationStoreStub) CategorySummaries(ctx context.Context) ([]models.CategorySummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	counts := map[models.ConfigurationCategory]*models.CategorySummary{}
	for _, cfg := range s.items {
		summary, ok := counts[cfg.Category]
		if !ok {
			summary = &models.CategorySummary{Category: cfg.Category}
			counts[cfg.Category] = summary
		}
		summary.Count++
		if cfg.IsPublic {
			summary.PublicCount++
		}
	}
	rows := []models.CategorySummary{}
	for _, summary := range counts {
		rows = append(rows, *summary)
	}
	return rows, nil
}

func (s *configurationStoreStub) Create(ctx context.Context, cfg *models.Configuration) error {
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string]models.Configuration)
	}
	if _, ok := s.items[cfg.Key]; ok {
		return appErrors.Clone(appErrors.ErrConflict, "configuration with key already exists")
	}
	cfg.CreatedAt = time.Now().UTC()
	cfg.UpdatedAt = cfg.CreatedAt
	s.items[cfg.Key] = *cfg
	return nil
}

func (s *configurationStoreStub) Update(ctx context.Context, key string, update repository.ConfigurationUpdate) (*models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	cfg, ok := s.items[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if update.Value != nil {
		cfg.Value = *update.Value
	}
	if update.Description != nil {
		cfg.Description = *update.Description
	}
	if update.IsPublic != nil {
		cfg.IsPublic = *update.IsPublic
	}
	if update.Tags != nil {
		cfg.Tags = pq.StringArray(*update.Tags)
	}
	if update.ModifiedBy != "" {
		modifier := update.ModifiedBy
		cfg.LastModifiedBy = &modifier
	}
	cfg.Version++
	cfg.UpdatedAt = time.Now().UTC()
	s.items[key] = cfg
	copied := cfg
	return &copied, nil
}

func (s *configurationStoreStub) Delete(ctx context.Context, key string) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.items[key]; !ok {
		return sql.ErrNoRows
	}
	delete(s.items, key)
	return nil
}

type auditWriterStub struct {
	logs []*models.AuditLog
}

func (a *auditWriterStub) Create(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newConfigurationService(store *configurationStoreStub, audit *auditWriterStub) *ConfigurationService {
	return NewConfigurationService(store, audit, nil, nil, validator.New(), nil, 0)
}

func latePenaltyEntry() models.Configuration {
	return models.Configuration{
		ID:           "cfg-late-penalty",
		Key:          "assignment_late_penalty",
		Value:        models.NumberValue(10),
		Type:         models.ConfigurationTypeNumber,
		Category:     models.CategoryAssignment,
		Description:  "Percentage deducted from late submissions",
		IsPublic:     true,
		IsEditable:   true,
		Validation:   models.ValidationRules{Min: fptr(0), Max: fptr(100)},
		DefaultValue: models.NumberValue(10),
		Tags:         pq.StringArray{"grading"},
		Version:      1,
	}
}

func fptr(v float64) *float64 { return &v }

func TestConfigurationServiceCreateAppliesDefaults(t *testing.T) {
	store := &configurationStoreStub{}
	audit := &auditWriterStub{}
	svc := newConfigurationService(store, audit)

	created, err := svc.Create(context.Background(), dto.CreateConfigurationRequest{
		Key:         "site_name",
		Value:       json.RawMessage(`"EduManage"`),
		Type:        "string",
		Category:    "system",
		Description: "Public site name",
	}, &models.JWTClaims{UserID: "admin-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, created.Version)
	assert.False(t, created.IsPublic)
	assert.True(t, created.IsEditable)
	assert.Equal(t, []string{}, []string(created.Tags))
	require.NotNil(t, created.LastModifiedBy)
	assert.Equal(t, "admin-1", *created.LastModifiedBy)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionConfigCreate, audit.logs[0].Action)
}

func TestConfigurationServiceCreateDuplicateDoesNotTouchExisting(t *testing.T) {
	entry := latePenaltyEntry()
	entry.Version = 4
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})

	_, err := svc.Create(context.Background(), dto.CreateConfigurationRequest{
		Key:         entry.Key,
		Value:       json.RawMessage(`25`),
		Type:        "number",
		Category:    "assignment",
		Description: "duplicate",
	}, &models.JWTClaims{UserID: "admin-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	kept := store.items[entry.Key]
	assert.Equal(t, 4, kept.Version)
	n, ok := kept.Value.Number()
	require.True(t, ok)
	assert.Equal(t, float64(10), n)
}

func TestConfigurationServiceCreateCollectsRuleViolations(t *testing.T) {
	store := &configurationStoreStub{}
	svc := newConfigurationService(store, &auditWriterStub{})

	_, err := svc.Create(context.Background(), dto.CreateConfigurationRequest{
		Key:         "items_per_page",
		Value:       json.RawMessage(`300`),
		Type:        "number",
		Category:    "ui",
		Description: "Rows per page",
		Validation:  &models.ValidationRules{Min: fptr(5), Max: fptr(100)},
	}, nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "Value must be at most 100")
	assert.Empty(t, store.items)
}

func TestConfigurationServiceLatePenaltyScenario(t *testing.T) {
	entry := latePenaltyEntry()
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})
	actor := &models.JWTClaims{UserID: "admin-1"}

	updated, err := svc.Update(context.Background(), entry.Key, dto.UpdateConfigurationRequest{Value: json.RawMessage(`15`)}, actor)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	n, ok := updated.Value.Number()
	require.True(t, ok)
	assert.Equal(t, float64(15), n)

	_, err = svc.Update(context.Background(), entry.Key, dto.UpdateConfigurationRequest{Value: json.RawMessage(`150`)}, actor)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "Value must be at most 100")

	kept := store.items[entry.Key]
	assert.Equal(t, 2, kept.Version)
	n, _ = kept.Value.Number()
	assert.Equal(t, float64(15), n)

	reset, err := svc.Reset(context.Background(), entry.Key, actor)
	require.NoError(t, err)
	assert.Equal(t, 3, reset.Version)
	n, ok = reset.Value.Number()
	require.True(t, ok)
	assert.Equal(t, float64(10), n)
}

func TestConfigurationServiceUpdateMissingKey(t *testing.T) {
	svc := newConfigurationService(&configurationStoreStub{}, &auditWriterStub{})
	_, err := svc.Update(context.Background(), "ghost", dto.UpdateConfigurationRequest{Value: json.RawMessage(`1`)}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConfigurationServiceNotEditableBlocksMutation(t *testing.T) {
	entry := latePenaltyEntry()
	entry.Key = "grade_scale"
	entry.IsEditable = false
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})
	actor := &models.JWTClaims{UserID: "admin-1"}

	_, err := svc.Update(context.Background(), entry.Key, dto.UpdateConfigurationRequest{Value: json.RawMessage(`50`)}, actor)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotEditable.Code, appErr.Code)
	assert.Equal(t, 400, appErr.Status)

	err = svc.Delete(context.Background(), entry.Key, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEditable.Code, appErrors.FromError(err).Code)

	kept := store.items[entry.Key]
	assert.Equal(t, 1, kept.Version)
}

func TestConfigurationServiceBulkUpdatePartialSuccess(t *testing.T) {
	entry := latePenaltyEntry()
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})

	resp, err := svc.BulkUpdate(context.Background(), dto.BulkUpdateConfigurationRequest{
		Updates: []dto.BulkUpdateItem{
			{Key: entry.Key, Value: json.RawMessage(`20`)},
			{Key: "unknown_key", Value: json.RawMessage(`true`)},
		},
	}, &models.JWTClaims{UserID: "admin-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Updated)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, entry.Key, resp.Results[0].Key)
	assert.Equal(t, 2, resp.Results[0].Version)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "unknown_key", resp.Errors[0].Key)
	assert.Equal(t, "configuration not found", resp.Errors[0].Error)

	kept := store.items[entry.Key]
	assert.Equal(t, 2, kept.Version)
}

func TestConfigurationServiceBulkUpdateCollectsRuleDetails(t *testing.T) {
	entry := latePenaltyEntry()
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})

	resp, err := svc.BulkUpdate(context.Background(), dto.BulkUpdateConfigurationRequest{
		Updates: []dto.BulkUpdateItem{{Key: entry.Key, Value: json.RawMessage(`-5`)}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Updated)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Details, "Value must be at least 0")
	assert.Equal(t, 1, store.items[entry.Key].Version)
}

func TestConfigurationServiceResetRequiresDefault(t *testing.T) {
	entry := latePenaltyEntry()
	entry.DefaultValue = models.NullValue()
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})

	_, err := svc.Reset(context.Background(), entry.Key, nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, 1, store.items[entry.Key].Version)
}

func TestConfigurationServiceResetSkipsRuleCheck(t *testing.T) {
	// The stored default predates a rule change and now violates min=20.
	// Reset still applies it: defaults are trusted as-is.
	entry := latePenaltyEntry()
	entry.Validation = models.ValidationRules{Min: fptr(20), Max: fptr(100)}
	entry.Value = models.NumberValue(25)
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})

	reset, err := svc.Reset(context.Background(), entry.Key, &models.JWTClaims{UserID: "admin-1"})
	require.NoError(t, err)
	n, ok := reset.Value.Number()
	require.True(t, ok)
	assert.Equal(t, float64(10), n)
	assert.Equal(t, 2, reset.Version)
}

func TestConfigurationServicePublicProjectionOmitsPrivate(t *testing.T) {
	public := latePenaltyEntry()
	private := latePenaltyEntry()
	private.Key = "max_login_attempts"
	private.Category = models.CategorySecurity
	private.IsPublic = false
	private.Value = models.NumberValue(5)
	store := &configurationStoreStub{items: map[string]models.Configuration{
		public.Key:  public,
		private.Key: private,
	}}
	svc := newConfigurationService(store, &auditWriterStub{})

	projection, err := svc.PublicProjection(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, projection, public.Key)
	assert.NotContains(t, projection, private.Key)
	assert.Equal(t, float64(10), projection[public.Key])
}

func TestConfigurationServiceCategoriesFillDisplayName(t *testing.T) {
	upload := latePenaltyEntry()
	upload.Key = "max_file_size"
	upload.Category = models.CategoryFileUpload
	store := &configurationStoreStub{items: map[string]models.Configuration{upload.Key: upload}}
	svc := newConfigurationService(store, &auditWriterStub{})

	summaries, err := svc.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "File upload", summaries[0].DisplayName)
	assert.Equal(t, 1, summaries[0].Count)
	assert.Equal(t, 1, summaries[0].PublicCount)
}

func TestConfigurationServiceListEnvelope(t *testing.T) {
	entry := latePenaltyEntry()
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := newConfigurationService(store, &auditWriterStub{})

	page, err := svc.List(context.Background(), models.ConfigurationFilter{Page: 0, PageSize: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Current)
	assert.Equal(t, 20, page.Pagination.Limit)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.Pages)
	require.Len(t, page.Configurations, 1)
}

func TestConfigurationServiceTypedGetters(t *testing.T) {
	penalty := latePenaltyEntry()
	channels := models.Configuration{
		Key:        "notification_channels",
		Value:      models.StringsValue([]string{"email", "in_app"}),
		Type:       models.ConfigurationTypeArray,
		Category:   models.CategoryNotification,
		IsPublic:   true,
		IsEditable: true,
		Version:    1,
	}
	maintenance := models.Configuration{
		Key:        "maintenance_mode",
		Value:      models.BoolValue(true),
		Type:       models.ConfigurationTypeBoolean,
		Category:   models.CategorySystem,
		IsPublic:   true,
		IsEditable: true,
		Version:    1,
	}
	siteName := models.Configuration{
		Key:        "site_name",
		Value:      models.StringValue("EduManage"),
		Type:       models.ConfigurationTypeString,
		Category:   models.CategorySystem,
		IsPublic:   true,
		IsEditable: true,
		Version:    1,
	}
	store := &configurationStoreStub{items: map[string]models.Configuration{
		penalty.Key:     penalty,
		channels.Key:    channels,
		maintenance.Key: maintenance,
		siteName.Key:    siteName,
	}}
	svc := newConfigurationService(store, &auditWriterStub{})
	ctx := context.Background()

	assert.Equal(t, float64(10), svc.Number(ctx, KeyAssignmentLatePenalty, 99))
	assert.Equal(t, float64(99), svc.Number(ctx, "missing", 99))
	assert.True(t, svc.Bool(ctx, KeyMaintenanceMode, false))
	assert.False(t, svc.Bool(ctx, "missing", false))
	assert.Equal(t, "EduManage", svc.Text(ctx, KeySiteName, "fallback"))
	assert.Equal(t, "fallback", svc.Text(ctx, "missing", "fallback"))
	assert.Equal(t, []string{"email", "in_app"}, svc.Strings(ctx, KeyNotificationChannels, nil))
	assert.Equal(t, []string{"push"}, svc.Strings(ctx, "missing", []string{"push"}))
}

func TestConfigurationServiceObjectGetter(t *testing.T) {
	scale := models.Configuration{
		Key:        "grade_scale",
		Value:      models.ObjectValue(map[string]interface{}{"A": 90, "B": 80, "C": 70, "D": 60}),
		Type:       models.ConfigurationTypeObject,
		Category:   models.CategoryAssignment,
		IsPublic:   true,
		IsEditable: false,
		Version:    1,
	}
	store := &configurationStoreStub{items: map[string]models.Configuration{scale.Key: scale}}
	svc := newConfigurationService(store, &auditWriterStub{})

	var thresholds map[string]float64
	require.True(t, svc.Object(context.Background(), KeyGradeScale, &thresholds))
	assert.Equal(t, float64(90), thresholds["A"])
	assert.Equal(t, float64(60), thresholds["D"])

	var missing map[string]float64
	assert.False(t, svc.Object(context.Background(), "missing", &missing))
}

func TestConfigurationServiceExportDataset(t *testing.T) {
	entry := latePenaltyEntry()
	modifier := "admin-1"
	entry.LastModifiedBy = &modifier
	store := &configurationStoreStub{items: map[string]models.Configuration{entry.Key: entry}}
	svc := NewConfigurationService(store, &auditWriterStub{}, userReaderStub{}, nil, validator.New(), nil, 0)

	dataset, err := svc.ExportDataset(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, dataset.Rows, 1)
	row := dataset.Rows[0]
	assert.Equal(t, entry.Key, row["key"])
	assert.Equal(t, "10", row["value"])
	assert.Equal(t, "number", row["type"])
	assert.Equal(t, "Admin One", row["last_modified_by"])
}

type userReaderStub struct{}

func (userReaderStub) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, models.User{ID: id, FullName: "Admin One"})
	}
	return users, nil
}
