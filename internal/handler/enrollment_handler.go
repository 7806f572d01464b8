package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/service"
	"github.com/edumanage/edumanage-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler creates a new enrollment handler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// Enroll godoc
// @Summary Enroll into a course
// @Description Current student joins the course when enrollment is open and capacity allows
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/enroll [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	enrollment, err := h.service.Enroll(c.Request.Context(), c.Param("id"), claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, enrollment)
}

// ListByCourse godoc
// @Summary List course roster
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Param status query string false "Status filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/enrollments [get]
func (h *EnrollmentHandler) ListByCourse(c *gin.Context) {
	filter := parseEnrollmentFilter(c)
	enrollments, pagination, err := h.service.ListByCourse(c.Request.Context(), c.Param("id"), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// ListOwn godoc
// @Summary List own enrollments
// @Tags Enrollments
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) ListOwn(c *gin.Context) {
	filter := parseEnrollmentFilter(c)
	enrollments, pagination, err := h.service.ListOwn(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Drop godoc
// @Summary Drop enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	enrollment, err := h.service.Drop(c.Request.Context(), c.Param("id"), claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Complete godoc
// @Summary Mark enrollment completed
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/complete [post]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	enrollment, err := h.service.Complete(c.Request.Context(), c.Param("id"), claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollment, nil)
}

func parseEnrollmentFilter(c *gin.Context) models.EnrollmentFilter {
	var filter models.EnrollmentFilter
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if status := c.Query("status"); status != "" {
		s := models.EnrollmentStatus(status)
		filter.Status = &s
	}
	return filter
}
