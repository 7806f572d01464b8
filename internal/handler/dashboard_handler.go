package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/middleware"
	"github.com/edumanage/edumanage-api/pkg/response"
)

type dashboardService interface {
	Summary(ctx context.Context) (*dto.DashboardResponse, bool, error)
}

// DashboardHandler serves the aggregated admin dashboard.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Summary godoc
// @Summary Admin dashboard summary
// @Description Entity counts plus recent registrations and enrollments
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	start := time.Now()
	summary, cacheHit, err := h.service.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()

	response.JSON(c, http.StatusOK, summary, nil, meta)
}
