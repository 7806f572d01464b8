package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/service"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

// UploadHandler manages file upload endpoints.
type UploadHandler struct {
	service *service.UploadService
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(svc *service.UploadService) *UploadHandler {
	return &UploadHandler{service: svc}
}

// Upload godoc
// @Summary Upload a file
// @Description Stores the file when its type and size pass the configured limits
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Param course_id formData string false "Attach to course"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	var courseID *string
	if raw := strings.TrimSpace(c.PostForm("course_id")); raw != "" {
		courseID = &raw
	}

	req := service.SaveUploadRequest{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		CourseID:    courseID,
		Reader:      src,
	}
	upload, err := h.service.Save(c.Request.Context(), req, claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, upload)
}

// ListOwn godoc
// @Summary List own uploads
// @Tags Uploads
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /uploads [get]
func (h *UploadHandler) ListOwn(c *gin.Context) {
	uploads, err := h.service.ListOwn(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, uploads, nil)
}

// ListByCourse godoc
// @Summary List uploads attached to a course
// @Tags Uploads
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/uploads [get]
func (h *UploadHandler) ListByCourse(c *gin.Context) {
	uploads, err := h.service.ListByCourse(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, uploads, nil)
}

// Get godoc
// @Summary Get upload metadata
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /uploads/{id} [get]
func (h *UploadHandler) Get(c *gin.Context) {
	upload, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, upload, nil)
}

// Download godoc
// @Summary Download an upload
// @Tags Uploads
// @Produce octet-stream
// @Param id path string true "Upload ID"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /uploads/{id}/download [get]
func (h *UploadHandler) Download(c *gin.Context) {
	upload, file, err := h.service.Open(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", upload.FileName))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, upload.SizeBytes, upload.ContentType, file, nil)
}

// Link godoc
// @Summary Issue a signed download link
// @Description The returned URL works without an Authorization header until it expires
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /uploads/{id}/link [get]
func (h *UploadHandler) Link(c *gin.Context) {
	link, err := h.service.SignedLink(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadSigned godoc
// @Summary Download via signed token
// @Tags Uploads
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /uploads/download [get]
func (h *UploadHandler) DownloadSigned(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	upload, file, err := h.service.OpenSigned(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", upload.FileName))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, upload.SizeBytes, upload.ContentType, file, nil)
}

// Delete godoc
// @Summary Delete an upload
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /uploads/{id} [delete]
func (h *UploadHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
