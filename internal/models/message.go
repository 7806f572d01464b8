package models

import "time"

// Message is a direct user-to-user message.
type Message struct {
	ID          string     `db:"id" json:"id"`
	SenderID    string     `db:"sender_id" json:"sender_id"`
	RecipientID string     `db:"recipient_id" json:"recipient_id"`
	Subject     string     `db:"subject" json:"subject"`
	Body        string     `db:"body" json:"body"`
	IsRead      bool       `db:"is_read" json:"is_read"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`

	SenderName    *string `db:"sender_name" json:"sender_name,omitempty"`
	RecipientName *string `db:"recipient_name" json:"recipient_name,omitempty"`
}

// MessageFilter captures criteria for listing a user's messages.
type MessageFilter struct {
	UserID   string
	Box      string // "inbox" or "sent"
	Unread   *bool
	Page     int
	PageSize int
}
