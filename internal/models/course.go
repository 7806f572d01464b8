package models

import "time"

// CourseStatus tracks the lifecycle of a course.
type CourseStatus string

const (
	CourseStatusPending  CourseStatus = "PENDING"
	CourseStatusActive   CourseStatus = "ACTIVE"
	CourseStatusArchived CourseStatus = "ARCHIVED"
)

// Valid reports whether the status is a known lifecycle state.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseStatusPending, CourseStatusActive, CourseStatusArchived:
		return true
	default:
		return false
	}
}

// Course represents a course offering taught by a single teacher.
type Course struct {
	ID          string       `db:"id" json:"id"`
	Code        string       `db:"code" json:"code"`
	Title       string       `db:"title" json:"title"`
	Description string       `db:"description" json:"description"`
	TeacherID   string       `db:"teacher_id" json:"teacher_id"`
	Capacity    int          `db:"capacity" json:"capacity"`
	Status      CourseStatus `db:"status" json:"status"`
	StartDate   *time.Time   `db:"start_date" json:"start_date,omitempty"`
	EndDate     *time.Time   `db:"end_date" json:"end_date,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`

	// EnrolledCount is populated by list and detail queries.
	EnrolledCount int     `db:"enrolled_count" json:"enrolled_count"`
	TeacherName   *string `db:"teacher_name" json:"teacher_name,omitempty"`
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	Status    *CourseStatus
	TeacherID string
	Search    string
	Page      int
	PageSize  int
}
