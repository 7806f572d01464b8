package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type messageStore interface {
	FindByID(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, message *models.Message) error
	MarkRead(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type messageUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// SendMessageRequest represents payload for sending a direct message.
type SendMessageRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Subject     string `json:"subject" validate:"required,max=200"`
	Body        string `json:"body" validate:"required,max=10000"`
}

// MessageService handles direct user-to-user messages.
type MessageService struct {
	repo          messageStore
	users         messageUserReader
	audits        auditWriter
	notifications *NotificationService
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewMessageService creates an instance of MessageService.
func NewMessageService(repo messageStore, users messageUserReader, audits auditWriter, notifications *NotificationService, validate *validator.Validate, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &MessageService{
		repo:          repo,
		users:         users,
		audits:        audits,
		notifications: notifications,
		validator:     validate,
		logger:        logger,
	}
}

// Send delivers a message from the acting user to another user.
func (s *MessageService) Send(ctx context.Context, req SendMessageRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Message, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message payload")
	}
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if req.RecipientID == actor.UserID {
		return nil, appErrors.Validation([]string{"Recipient must be another user"})
	}

	recipient, err := s.users.FindByID(ctx, req.RecipientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "recipient not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipient")
	}
	if !recipient.Active {
		return nil, appErrors.Clone(appErrors.ErrConflict, "recipient account is inactive")
	}

	message := &models.Message{
		SenderID:    actor.UserID,
		RecipientID: req.RecipientID,
		Subject:     req.Subject,
		Body:        req.Body,
	}
	if err := s.repo.Create(ctx, message); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send message")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"recipient_id": message.RecipientID, "subject": message.Subject})
	s.emitAudit(ctx, actor, models.AuditActionMessageSend, message.ID, newPayload, meta)

	s.notifications.Dispatch(ctx, models.Notification{
		UserID: message.RecipientID,
		Type:   models.NotificationMessage,
		Title:  "New message",
		Body:   fmt.Sprintf("%s: %s", actor.FullName, message.Subject),
	})

	return message, nil
}

// List returns a page of the acting user's inbox or sent box.
func (s *MessageService) List(ctx context.Context, actor *models.JWTClaims, filter models.MessageFilter) ([]models.Message, *models.Pagination, error) {
	if actor == nil || actor.UserID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	filter.UserID = actor.UserID

	messages, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list messages")
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns how many inbox messages the acting user has not read.
func (s *MessageService) UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error) {
	if actor == nil || actor.UserID == "" {
		return 0, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	count, err := s.repo.CountUnread(ctx, actor.UserID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread messages")
	}
	return count, nil
}

// Get returns one message to a participant. Opening a message as its
// recipient marks it read.
func (s *MessageService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Message, error) {
	message, err := s.loadMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || (actor.UserID != message.SenderID && actor.UserID != message.RecipientID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the sender or recipient may view this message")
	}

	if actor.UserID == message.RecipientID && !message.IsRead {
		if err := s.repo.MarkRead(ctx, id); err != nil {
			s.logger.Warn("failed to mark message read", zap.String("message_id", id), zap.Error(err))
		} else {
			now := time.Now().UTC()
			message.IsRead = true
			message.ReadAt = &now
		}
	}
	return message, nil
}

// Delete removes a message. Only the sender or an admin may delete.
func (s *MessageService) Delete(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) error {
	message, err := s.loadMessage(ctx, id)
	if err != nil {
		return err
	}
	if actor == nil || (actor.Role != models.RoleAdmin && actor.UserID != message.SenderID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the sender may delete this message")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "message not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete message")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"recipient_id": message.RecipientID, "subject": message.Subject})
	s.emitAudit(ctx, actor, models.AuditActionMessageDelete, id, oldPayload, meta)

	return nil
}

func (s *MessageService) loadMessage(ctx context.Context, id string) (*models.Message, error) {
	message, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "message not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load message")
	}
	return message, nil
}

func (s *MessageService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, payload []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "messages",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record message audit log", zap.String("action", action), zap.Error(err))
	}
}
