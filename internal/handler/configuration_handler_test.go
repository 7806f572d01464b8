package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/middleware"
	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/export"
	"github.com/edumanage/edumanage-api/pkg/response"
)

type configurationServiceMock struct {
	page       *dto.ConfigurationPage
	item       *models.Configuration
	categories []models.CategorySummary
	projection map[string]interface{}
	bulkResp   *dto.BulkUpdateResponse
	exportResp *dto.ConfigurationExport
	dataset    *export.Dataset
	err        error
}

func (m *configurationServiceMock) List(ctx context.Context, filter models.ConfigurationFilter) (*dto.ConfigurationPage, error) {
	return m.page, m.err
}

func (m *configurationServiceMock) Get(ctx context.Context, key string) (*models.Configuration, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.item, nil
}

func (m *configurationServiceMock) Categories(ctx context.Context) ([]models.CategorySummary, error) {
	return m.categories, m.err
}

func (m *configurationServiceMock) PublicProjection(ctx context.Context, category *models.ConfigurationCategory) (map[string]interface{}, error) {
	return m.projection, m.err
}

func (m *configurationServiceMock) Create(ctx context.Context, req dto.CreateConfigurationRequest, actor *models.JWTClaims) (*models.Configuration, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.item, nil
}

func (m *configurationServiceMock) Update(ctx context.Context, key string, req dto.UpdateConfigurationRequest, actor *models.JWTClaims) (*models.Configuration, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.item, nil
}

func (m *configurationServiceMock) Delete(ctx context.Context, key string, actor *models.JWTClaims) error {
	return m.err
}

func (m *configurationServiceMock) BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) (*dto.BulkUpdateResponse, error) {
	return m.bulkResp, m.err
}

func (m *configurationServiceMock) Reset(ctx context.Context, key string, actor *models.JWTClaims) (*models.Configuration, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.item, nil
}

func (m *configurationServiceMock) Export(ctx context.Context, category *models.ConfigurationCategory) (*dto.ConfigurationExport, error) {
	return m.exportResp, m.err
}

func (m *configurationServiceMock) ExportDataset(ctx context.Context, category *models.ConfigurationCategory) (*export.Dataset, error) {
	return m.dataset, m.err
}

func adminContext(w *httptest.ResponseRecorder) (*gin.Context, *gin.Engine) {
	c, engine := gin.CreateTestContext(w)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	return c, engine
}

func TestConfigurationHandlerPublicProjection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{
		projection: map[string]interface{}{
			"site_name":               "EduManage",
			"assignment_late_penalty": float64(10),
		},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations/public", nil)

	handler.Public(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "EduManage", data["site_name"])
	assert.Equal(t, float64(10), data["assignment_late_penalty"])
	assert.NotContains(t, data, "max_login_attempts")
}

func TestConfigurationHandlerPublicRejectsUnknownCategory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations/public?category=bogus", nil)

	handler.Public(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigurationHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{err: appErrors.ErrNotFound}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations/ghost", nil)
	c.Params = gin.Params{{Key: "key", Value: "ghost"}}

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrNotFound.Code, envelope.Error.Code)
}

func TestConfigurationHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/configurations", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigurationHandlerUpdateNotEditable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{err: appErrors.ErrNotEditable}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	body, _ := json.Marshal(dto.UpdateConfigurationRequest{Value: json.RawMessage(`42`)})
	req, _ := http.NewRequest(http.MethodPut, "/configurations/grade_scale", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "key", Value: "grade_scale"}}

	handler.Update(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "NOT_EDITABLE", envelope.Error.Code)
}

func TestConfigurationHandlerBulkUpdatePartialSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{
		bulkResp: &dto.BulkUpdateResponse{
			Updated: 1,
			Failed:  1,
			Results: []dto.BulkUpdateResult{{Key: "items_per_page", Version: 2}},
			Errors:  []dto.BulkUpdateError{{Key: "ghost", Error: "configuration not found"}},
		},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	body, _ := json.Marshal(dto.BulkUpdateConfigurationRequest{Updates: []dto.BulkUpdateItem{
		{Key: "items_per_page", Value: json.RawMessage(`25`)},
		{Key: "ghost", Value: json.RawMessage(`1`)},
	}})
	req, _ := http.NewRequest(http.MethodPost, "/configurations/bulk-update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.BulkUpdate(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data dto.BulkUpdateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 1, envelope.Data.Updated)
	assert.Equal(t, 1, envelope.Data.Failed)
	require.Len(t, envelope.Data.Errors, 1)
	assert.Equal(t, "ghost", envelope.Data.Errors[0].Key)
}

func TestConfigurationHandlerBulkUpdateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/configurations/bulk-update", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.BulkUpdate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigurationHandlerExportCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{
		dataset: &export.Dataset{
			Headers: []string{"key", "value"},
			Rows:    []map[string]string{{"key": "site_name", "value": "EduManage"}},
		},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations/export?format=csv", nil)

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "site_name,EduManage")
}

func TestConfigurationHandlerExportRejectsUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations/export?format=xml", nil)

	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigurationHandlerListParsesFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{
		page: &dto.ConfigurationPage{
			Configurations: []models.Configuration{},
			Pagination:     dto.PageInfo{Current: 2, Pages: 3, Total: 41, Limit: 20},
		},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations?category=assignment&is_public=true&page=2", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data dto.ConfigurationPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Data.Pagination.Current)
	assert.Equal(t, 41, envelope.Data.Pagination.Total)
}

func TestConfigurationHandlerListRejectsBadPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewConfigurationHandler(&configurationServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := adminContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/configurations?page=abc", nil)

	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
