package models

import "time"

// Upload holds metadata for a stored file. The bytes live on disk under the
// stored name; the original name is kept for download headers.
type Upload struct {
	ID          string    `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	CourseID    *string   `db:"course_id" json:"course_id,omitempty"`
	FileName    string    `db:"file_name" json:"file_name"`
	StoredName  string    `db:"stored_name" json:"-"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
