package dto

import (
	"encoding/json"
	"time"

	"github.com/edumanage/edumanage-api/internal/models"
)

// CreateConfigurationRequest describes the payload for registering a new
// configuration entry. Value and DefaultValue stay raw so the service can
// distinguish an absent field from an explicit JSON null.
type CreateConfigurationRequest struct {
	Key          string                  `json:"key" validate:"required,max=100"`
	Value        json.RawMessage         `json:"value" validate:"required"`
	Type         string                  `json:"type" validate:"required"`
	Category     string                  `json:"category" validate:"required"`
	Description  string                  `json:"description" validate:"required"`
	IsPublic     *bool                   `json:"is_public"`
	IsEditable   *bool                   `json:"is_editable"`
	Validation   *models.ValidationRules `json:"validation"`
	DefaultValue json.RawMessage         `json:"default_value"`
	Tags         []string                `json:"tags"`
}

// UpdateConfigurationRequest carries a partial update. Absent fields are left
// untouched; only value is re-validated against the stored rules.
type UpdateConfigurationRequest struct {
	Value       json.RawMessage `json:"value"`
	Description *string         `json:"description"`
	IsPublic    *bool           `json:"is_public"`
	Tags        *[]string       `json:"tags"`
}

// BulkUpdateItem pairs a key with its replacement value.
type BulkUpdateItem struct {
	Key   string          `json:"key" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required"`
}

// BulkUpdateConfigurationRequest holds the ordered bulk payload.
type BulkUpdateConfigurationRequest struct {
	Updates []BulkUpdateItem `json:"updates" validate:"required,min=1,dive"`
}

// BulkUpdateResult reports one item that was applied.
type BulkUpdateResult struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
}

// BulkUpdateError reports one item that was skipped and why.
type BulkUpdateError struct {
	Key     string   `json:"key"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// BulkUpdateResponse aggregates a bulk run. The request as a whole succeeds
// even when individual items fail.
type BulkUpdateResponse struct {
	Updated int                `json:"updated"`
	Failed  int                `json:"failed"`
	Results []BulkUpdateResult `json:"results"`
	Errors  []BulkUpdateError  `json:"errors"`
}

// PageInfo is the pagination block used by the configuration listing.
type PageInfo struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
}

// ConfigurationPage bundles one page of entries with its pagination block.
type ConfigurationPage struct {
	Configurations []models.Configuration `json:"configurations"`
	Pagination     PageInfo               `json:"pagination"`
}

// ConfigurationExport is the JSON export envelope.
type ConfigurationExport struct {
	ExportedAt     time.Time              `json:"exported_at"`
	Count          int                    `json:"count"`
	Configurations []models.Configuration `json:"configurations"`
}
