package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/service"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

// SubmissionHandler exposes assignment submission endpoints.
type SubmissionHandler struct {
	service *service.SubmissionService
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(svc *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{service: svc}
}

// Submit godoc
// @Summary Submit assignment work
// @Description Students submit or resubmit until the attempt limit is reached
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body service.SubmitRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assignments/{id}/submissions [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}

	submission, err := h.service.Submit(c.Request.Context(), c.Param("id"), req, claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, submission)
}

// ListByAssignment godoc
// @Summary List submissions for an assignment
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assignments/{id}/submissions [get]
func (h *SubmissionHandler) ListByAssignment(c *gin.Context) {
	submissions, err := h.service.ListByAssignment(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, submissions, nil)
}

// GetOwn godoc
// @Summary Get own submission for an assignment
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id}/submissions/me [get]
func (h *SubmissionHandler) GetOwn(c *gin.Context) {
	submission, err := h.service.GetOwn(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, submission, nil)
}

// Grade godoc
// @Summary Grade a submission
// @Description Applies score and feedback, deducting the late penalty when overdue
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.GradeSubmissionRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /submissions/{id}/grade [post]
func (h *SubmissionHandler) Grade(c *gin.Context) {
	var req service.GradeSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grade payload"))
		return
	}

	submission, err := h.service.Grade(c.Request.Context(), c.Param("id"), req, claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, submission, nil)
}
