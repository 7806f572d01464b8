package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/service"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

// GradeHandler exposes course grade endpoints.
type GradeHandler struct {
	service *service.GradeService
}

// NewGradeHandler creates a new grade handler.
func NewGradeHandler(svc *service.GradeService) *GradeHandler {
	return &GradeHandler{service: svc}
}

// Upsert godoc
// @Summary Record or replace a course grade
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpsertGradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/grades [put]
func (h *GradeHandler) Upsert(c *gin.Context) {
	var req service.UpsertGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grade payload"))
		return
	}

	grade, err := h.service.Upsert(c.Request.Context(), c.Param("id"), req, claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, grade, nil)
}

// Roster godoc
// @Summary List grades for a course
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/grades [get]
func (h *GradeHandler) Roster(c *gin.Context) {
	grades, err := h.service.Roster(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, grades, nil)
}

// GetOwn godoc
// @Summary Get own grade for a course
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/grades/me [get]
func (h *GradeHandler) GetOwn(c *gin.Context) {
	grade, err := h.service.GetForStudent(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, grade, nil)
}

// ListOwn godoc
// @Summary List own grades across courses
// @Tags Grades
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grades [get]
func (h *GradeHandler) ListOwn(c *gin.Context) {
	grades, err := h.service.ListOwn(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, grades, nil)
}

// Summary godoc
// @Summary Grade distribution for a course
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/grades/summary [get]
func (h *GradeHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}
