package models

import "time"

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationEnrollment NotificationType = "ENROLLMENT"
	NotificationGrade      NotificationType = "GRADE"
	NotificationMessage    NotificationType = "MESSAGE"
	NotificationSystem     NotificationType = "SYSTEM"
)

// Notification is an in-app notification row. Rows are produced by the
// enrollment, grading and messaging flows through the background dispatcher.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	IsRead    bool             `db:"is_read" json:"is_read"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
