package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/service"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/response"
)

// MessageHandler exposes direct messaging endpoints.
type MessageHandler struct {
	service *service.MessageService
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.MessageService) *MessageHandler {
	return &MessageHandler{service: svc}
}

// Send godoc
// @Summary Send a message
// @Tags Messages
// @Accept json
// @Produce json
// @Param payload body service.SendMessageRequest true "Message payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid message payload"))
		return
	}

	message, err := h.service.Send(c.Request.Context(), req, claimsFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, message)
}

// List godoc
// @Summary List messages
// @Tags Messages
// @Produce json
// @Param box query string false "inbox or sent" default(inbox)
// @Param unread query bool false "Unread filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /messages [get]
func (h *MessageHandler) List(c *gin.Context) {
	var filter models.MessageFilter
	filter.Box = c.DefaultQuery("box", "inbox")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if unread := c.Query("unread"); unread != "" {
		if val, err := strconv.ParseBool(unread); err == nil {
			filter.Unread = &val
		}
	}

	messages, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, messages, pagination)
}

// UnreadCount godoc
// @Summary Count unread messages
// @Tags Messages
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /messages/unread-count [get]
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"unread": count}, nil)
}

// Get godoc
// @Summary Read a message
// @Description Opening a received message marks it read
// @Tags Messages
// @Produce json
// @Param id path string true "Message ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /messages/{id} [get]
func (h *MessageHandler) Get(c *gin.Context) {
	message, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, message, nil)
}

// Delete godoc
// @Summary Delete a message
// @Tags Messages
// @Produce json
// @Param id path string true "Message ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /messages/{id} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
