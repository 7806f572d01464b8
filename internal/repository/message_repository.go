package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edumanage/edumanage-api/internal/models"
)

const messageSelect = `SELECT m.id, m.sender_id, m.recipient_id, m.subject, m.body, m.is_read, m.read_at, m.created_at,
	s.full_name AS sender_name, rcp.full_name AS recipient_name
FROM messages m
JOIN users s ON s.id = m.sender_id
JOIN users rcp ON rcp.id = m.recipient_id`

// MessageRepository provides database access for direct messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository creates a new instance of MessageRepository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// FindByID returns a message by identifier.
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	query := messageSelect + ` WHERE m.id = $1 LIMIT 1`
	var message models.Message
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find message by id: %w", err)
	}
	return &message, nil
}

// List returns a page of messages for one user's inbox or sent box.
func (r *MessageRepository) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error) {
	conditions := ""
	args := []interface{}{filter.UserID}
	switch filter.Box {
	case "sent":
		conditions = " WHERE m.sender_id = $1"
	default:
		conditions = " WHERE m.recipient_id = $1"
	}
	if filter.Unread != nil && *filter.Unread {
		conditions += " AND m.is_read = FALSE"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := messageSelect + conditions + fmt.Sprintf(" ORDER BY m.created_at DESC LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM messages m` + conditions
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	return messages, total, nil
}

// CountUnread returns the number of unread messages in a user's inbox.
func (r *MessageRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND is_read = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

// Create inserts a new message.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO messages (id, sender_id, recipient_id, subject, body, is_read, read_at, created_at)
VALUES (:id, :sender_id, :recipient_id, :subject, :body, :is_read, :read_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, message); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// MarkRead marks a message as read by its recipient.
func (r *MessageRepository) MarkRead(ctx context.Context, id string) error {
	const query = `UPDATE messages SET is_read = TRUE, read_at = $2 WHERE id = $1 AND is_read = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// Delete removes a message.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
