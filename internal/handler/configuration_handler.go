package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/export"
	"github.com/edumanage/edumanage-api/pkg/response"
)

type configurationService interface {
	List(ctx context.Context, filter models.ConfigurationFilter) (*dto.ConfigurationPage, error)
	Get(ctx context.Context, key string) (*models.Configuration, error)
	Categories(ctx context.Context) ([]models.CategorySummary, error)
	PublicProjection(ctx context.Context, category *models.ConfigurationCategory) (map[string]interface{}, error)
	Create(ctx context.Context, req dto.CreateConfigurationRequest, actor *models.JWTClaims) (*models.Configuration, error)
	Update(ctx context.Context, key string, req dto.UpdateConfigurationRequest, actor *models.JWTClaims) (*models.Configuration, error)
	Delete(ctx context.Context, key string, actor *models.JWTClaims) error
	BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) (*dto.BulkUpdateResponse, error)
	Reset(ctx context.Context, key string, actor *models.JWTClaims) (*models.Configuration, error)
	Export(ctx context.Context, category *models.ConfigurationCategory) (*dto.ConfigurationExport, error)
	ExportDataset(ctx context.Context, category *models.ConfigurationCategory) (*export.Dataset, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ConfigurationHandler exposes the configuration management endpoints.
type ConfigurationHandler struct {
	service configurationService
	csv     csvRenderer
}

// NewConfigurationHandler builds a new handler.
func NewConfigurationHandler(service configurationService, csv csvRenderer) *ConfigurationHandler {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	return &ConfigurationHandler{service: service, csv: csv}
}

// List godoc
// @Summary List configurations
// @Tags Configuration
// @Produce json
// @Param category query string false "Category filter"
// @Param is_public query bool false "Visibility filter"
// @Param search query string false "Substring match over key and description"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /configurations [get]
func (h *ConfigurationHandler) List(c *gin.Context) {
	filter, err := parseConfigurationFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// Categories godoc
// @Summary Summarise configuration categories
// @Tags Configuration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /configurations/categories [get]
func (h *ConfigurationHandler) Categories(c *gin.Context) {
	summaries, err := h.service.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, nil)
}

// Public godoc
// @Summary Public configuration projection
// @Description Flat key to value map of public entries, no authentication required
// @Tags Configuration
// @Produce json
// @Param category query string false "Category filter"
// @Success 200 {object} response.Envelope
// @Router /configurations/public [get]
func (h *ConfigurationHandler) Public(c *gin.Context) {
	category, err := parseCategoryParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	projection, err := h.service.PublicProjection(c.Request.Context(), category)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, projection, nil)
}

// Get godoc
// @Summary Get configuration by key
// @Tags Configuration
// @Produce json
// @Param key path string true "Configuration key"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /configurations/{key} [get]
func (h *ConfigurationHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Create godoc
// @Summary Create configuration
// @Tags Configuration
// @Accept json
// @Produce json
// @Param payload body dto.CreateConfigurationRequest true "Configuration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /configurations [post]
func (h *ConfigurationHandler) Create(c *gin.Context) {
	var req dto.CreateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid configuration payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, item, nil)
}

// Update godoc
// @Summary Update configuration
// @Tags Configuration
// @Accept json
// @Produce json
// @Param key path string true "Configuration key"
// @Param payload body dto.UpdateConfigurationRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /configurations/{key} [put]
func (h *ConfigurationHandler) Update(c *gin.Context) {
	var req dto.UpdateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid configuration payload"))
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("key"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete configuration
// @Tags Configuration
// @Produce json
// @Param key path string true "Configuration key"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /configurations/{key} [delete]
func (h *ConfigurationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("key"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkUpdate godoc
// @Summary Bulk update configuration values
// @Description Applies value updates item by item; failures do not roll back earlier items
// @Tags Configuration
// @Accept json
// @Produce json
// @Param payload body dto.BulkUpdateConfigurationRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /configurations/bulk-update [post]
func (h *ConfigurationHandler) BulkUpdate(c *gin.Context) {
	var req dto.BulkUpdateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk payload"))
		return
	}
	result, err := h.service.BulkUpdate(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reset godoc
// @Summary Reset configuration to its default value
// @Tags Configuration
// @Produce json
// @Param key path string true "Configuration key"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /configurations/reset/{key} [post]
func (h *ConfigurationHandler) Reset(c *gin.Context) {
	item, err := h.service.Reset(c.Request.Context(), c.Param("key"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Export godoc
// @Summary Export configurations
// @Description format=json returns an export envelope, format=csv streams an attachment
// @Tags Configuration
// @Produce json
// @Produce text/csv
// @Param format query string false "json or csv" default(json)
// @Param category query string false "Category filter"
// @Success 200 {object} response.Envelope
// @Router /configurations/export [get]
func (h *ConfigurationHandler) Export(c *gin.Context) {
	category, err := parseCategoryParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	format := c.DefaultQuery("format", "json")
	switch format {
	case "json":
		payload, err := h.service.Export(c.Request.Context(), category)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, payload, nil)
	case "csv":
		dataset, err := h.service.ExportDataset(c.Request.Context(), category)
		if err != nil {
			response.Error(c, err)
			return
		}
		payload, err := h.csv.Render(*dataset)
		if err != nil {
			response.Error(c, err)
			return
		}
		filename := fmt.Sprintf("configurations_%s.csv", time.Now().UTC().Format("20060102_150405"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/csv", payload)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be json or csv"))
	}
}

func parseConfigurationFilter(c *gin.Context) (models.ConfigurationFilter, error) {
	filter := models.ConfigurationFilter{Search: c.Query("search")}

	category, err := parseCategoryParam(c)
	if err != nil {
		return filter, err
	}
	filter.Category = category

	if raw := c.Query("is_public"); raw != "" {
		isPublic, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "is_public must be a boolean")
		}
		filter.IsPublic = &isPublic
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "page must be a number")
		}
		filter.Page = page
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "limit must be a number")
		}
		filter.PageSize = limit
	}
	return filter, nil
}

func parseCategoryParam(c *gin.Context) (*models.ConfigurationCategory, error) {
	raw := c.Query("category")
	if raw == "" {
		return nil, nil
	}
	category := models.ConfigurationCategory(raw)
	if !category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown configuration category")
	}
	return &category, nil
}
