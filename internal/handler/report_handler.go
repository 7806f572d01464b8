package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/service"
	"github.com/edumanage/edumanage-api/pkg/response"
)

type reportService interface {
	CourseGrades(ctx context.Context, courseID string, format service.ReportFormat, actor *models.JWTClaims) (*service.ReportFile, error)
	CourseAttendance(ctx context.Context, courseID string, format service.ReportFormat, actor *models.JWTClaims) (*service.ReportFile, error)
	CourseSatisfaction(ctx context.Context, courseID string, actor *models.JWTClaims) (*dto.CourseSatisfactionResponse, error)
}

// ReportHandler exposes reporting endpoints.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// CourseGrades godoc
// @Summary Course grade report
// @Description Streams the grade roster as CSV or PDF
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Course ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reports/courses/{id}/grades [get]
func (h *ReportHandler) CourseGrades(c *gin.Context) {
	format, err := service.ParseReportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.CourseGrades(c.Request.Context(), c.Param("id"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeReport(c, file)
}

// CourseAttendance godoc
// @Summary Course attendance report
// @Description Streams per-session attendance counts as CSV or PDF
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Course ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reports/courses/{id}/attendance [get]
func (h *ReportHandler) CourseAttendance(c *gin.Context) {
	format, err := service.ParseReportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.CourseAttendance(c.Request.Context(), c.Param("id"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeReport(c, file)
}

// Satisfaction godoc
// @Summary Course satisfaction score
// @Description Weighted blend of average grade and attendance rate
// @Tags Reports
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/courses/{id}/satisfaction [get]
func (h *ReportHandler) Satisfaction(c *gin.Context) {
	result, err := h.service.CourseSatisfaction(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func writeReport(c *gin.Context, file *service.ReportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.FileName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Payload)
}
