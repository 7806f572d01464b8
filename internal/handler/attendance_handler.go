package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/service"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

// AttendanceHandler exposes attendance sheet endpoints.
type AttendanceHandler struct {
	service *service.AttendanceService
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(svc *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Upsert godoc
// @Summary Record attendance for a date
// @Description Replaces the whole sheet for the course and date
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpsertAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/attendance [put]
func (h *AttendanceHandler) Upsert(c *gin.Context) {
	var req service.UpsertAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}

	record, err := h.service.Upsert(c.Request.Context(), c.Param("id"), req, claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, record, nil)
}

// ListByCourse godoc
// @Summary List attendance sheets for a course
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/attendance [get]
func (h *AttendanceHandler) ListByCourse(c *gin.Context) {
	records, err := h.service.ListByCourse(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// Delete godoc
// @Summary Delete an attendance sheet
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Param date path string true "Sheet date (YYYY-MM-DD)"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/attendance/{date} [delete]
func (h *AttendanceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), c.Param("date"), claimsFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// StudentSummary godoc
// @Summary Attendance summary for a student
// @Description Includes whether the student currently meets the required percentage
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/attendance/students/{studentId} [get]
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	summary, err := h.service.StudentSummary(c.Request.Context(), c.Param("id"), c.Param("studentId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}
